// Package statepeer wires internal/statestore onto the IPC bus as the
// distinguished "state" peer: get/set/delete/exists become directed
// commands any other peer can issue, grounded on
// original_source/server/ipc/state_peer.py.
package statepeer

import (
	"context"
	"encoding/json"
	"time"

	"musicd/internal/peer"
	"musicd/internal/statestore"
)

// Identity is the fixed peer name other components target when they want
// the state store, matching the distinguished "state" name from spec.md
// §4.C.
const Identity = "state"

// StatePeer exposes a statestore.Store over the command socket.
type StatePeer struct {
	peer  *peer.Peer
	store *statestore.Store
}

type getArgs struct {
	Key string `json:"key"`
}

type setArgs struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
	TTLMs int64   `json:"ttl_ms"`
}

type deleteArgs struct {
	Key string `json:"key"`
}

type existsArgs struct {
	Key string `json:"key"`
}

type valueResult struct {
	Value *string `json:"value"`
}

type boolResult struct {
	Result bool `json:"result"`
}

// New builds a StatePeer backed by store, registering its command handlers.
// Call Start to connect it to the broker.
func New(brokerDir string, store *statestore.Store) *StatePeer {
	p := peer.New(Identity, brokerDir)
	sp := &StatePeer{peer: p, store: store}

	p.OnCommand("get", sp.handleGet)
	p.OnCommand("set", sp.handleSet)
	p.OnCommand("delete", sp.handleDelete)
	p.OnCommand("exists", sp.handleExists)

	return sp
}

// Start connects the underlying peer to the broker.
func (sp *StatePeer) Start() error { return sp.peer.Start() }

// Stop disconnects the underlying peer.
func (sp *StatePeer) Stop() { sp.peer.Stop() }

func (sp *StatePeer) handleGet(data json.RawMessage) (any, error) {
	var args getArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return valueResult{Value: sp.store.Get(args.Key)}, nil
}

func (sp *StatePeer) handleSet(data json.RawMessage) (any, error) {
	var args setArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	sp.store.Set(args.Key, args.Value, time.Duration(args.TTLMs)*time.Millisecond)
	return boolResult{Result: true}, nil
}

func (sp *StatePeer) handleDelete(data json.RawMessage) (any, error) {
	var args deleteArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return boolResult{Result: sp.store.Delete(args.Key)}, nil
}

func (sp *StatePeer) handleExists(data json.RawMessage) (any, error) {
	var args existsArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return boolResult{Result: sp.store.Exists(args.Key)}, nil
}

// Client is a thin typed wrapper other peers use to talk to the state peer
// without hand-marshalling command payloads each time, grounded on the
// teacher's pattern of small typed helper methods around a generic command
// call (see client.go's request helpers).
type Client struct {
	peer *peer.Peer
}

// NewClient wraps an already-started peer for talking to the state peer.
func NewClient(p *peer.Peer) *Client { return &Client{peer: p} }

// Get fetches a value by key. A nil result with nil error means the key is
// absent or holds a stored null; callers needing that distinction should
// use Exists.
func (c *Client) Get(ctx context.Context, key string) (*string, error) {
	raw, err := c.peer.Command(ctx, Identity, "get", getArgs{Key: key})
	if err != nil {
		return nil, err
	}
	var res valueResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Set stores value (nil permitted) under key with the given TTL; ttl <= 0
// means no expiry.
func (c *Client) Set(ctx context.Context, key string, value *string, ttl time.Duration) error {
	_, err := c.peer.Command(ctx, Identity, "set", setArgs{Key: key, Value: value, TTLMs: ttl.Milliseconds()})
	return err
}

// Delete removes key, reporting whether it previously existed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	raw, err := c.peer.Command(ctx, Identity, "delete", deleteArgs{Key: key})
	if err != nil {
		return false, err
	}
	var res boolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, err
	}
	return res.Result, nil
}

// Exists reports whether key is currently present and unexpired.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	raw, err := c.peer.Command(ctx, Identity, "exists", existsArgs{Key: key})
	if err != nil {
		return false, err
	}
	var res boolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, err
	}
	return res.Result, nil
}
