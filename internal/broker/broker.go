// Package broker implements the IPC broker: a local pub/sub proxy plus an
// identity-routed command relay, reachable over three Unix-domain sockets
// inside a configured directory. It is the Go re-derivation of the
// retrieval pack's pidentify ZeroMQ broker (original_source/server/ipc/
// broker.py) — no ZeroMQ binding exists in the pack, so the wire protocol
// is hand-rolled newline-delimited JSON (see internal/ipcwire) instead of
// being transliterated socket-option for socket-option.
package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"musicd/internal/ipcwire"
)

const (
	pubSockName = "pub"
	subSockName = "sub"
	cmdSockName = "cmd"
)

// conn pairs a net.Conn with a mutex so concurrent goroutines can write to
// it safely (several publisher connections may fan out to the same
// subscriber, and several senders may route commands to the same peer).
type conn struct {
	mu sync.Mutex
	c  net.Conn
}

func (w *conn) writeLine(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.c.Write(data)
	return err
}

// Broker runs the three listeners and the forwarding loops. It does not
// filter pub/sub traffic — subscribers are expected to ignore topics they
// did not register for — and performs pure identity-prefix routing on the
// command socket, as described in spec.md §4.C.
type Broker struct {
	dir string

	pubLn net.Listener // subscribers connect here to receive
	subLn net.Listener // publishers connect here to send
	cmdLn net.Listener // directed request/response

	mu          sync.Mutex
	subscribers map[string]*conn // identity -> subscriber connection
	cmdPeers    map[string]*conn // identity -> command connection

	closing chan struct{}
	wg      sync.WaitGroup
}

// New returns a Broker that will listen under dir once Start is called.
func New(dir string) *Broker {
	return &Broker{
		dir:         dir,
		subscribers: make(map[string]*conn),
		cmdPeers:    make(map[string]*conn),
		closing:     make(chan struct{}),
	}
}

func (b *Broker) path(name string) string { return filepath.Join(b.dir, name) }

// Start creates the broker directory, unlinks stale socket files, binds the
// three listeners, and begins accepting connections in background
// goroutines. It returns once all three sockets are listening.
func (b *Broker) Start() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("broker: create dir: %w", err)
	}
	for _, name := range []string{pubSockName, subSockName, cmdSockName} {
		_ = os.Remove(b.path(name))
	}

	var err error
	if b.pubLn, err = net.Listen("unix", b.path(pubSockName)); err != nil {
		return fmt.Errorf("broker: listen pub: %w", err)
	}
	if b.subLn, err = net.Listen("unix", b.path(subSockName)); err != nil {
		return fmt.Errorf("broker: listen sub: %w", err)
	}
	if b.cmdLn, err = net.Listen("unix", b.path(cmdSockName)); err != nil {
		return fmt.Errorf("broker: listen cmd: %w", err)
	}

	b.wg.Add(3)
	go b.acceptLoop(b.pubLn, b.handlePubConn)
	go b.acceptLoop(b.subLn, b.handleSubConn)
	go b.acceptLoop(b.cmdLn, b.handleCmdConn)

	log.Printf("[broker] started pub=%s sub=%s cmd=%s", b.path(pubSockName), b.path(subSockName), b.path(cmdSockName))
	return nil
}

// Stop closes the listeners and unlinks the socket files. In-flight
// connections are closed; their goroutines exit on the resulting read
// error.
func (b *Broker) Stop() {
	close(b.closing)
	for _, ln := range []net.Listener{b.pubLn, b.subLn, b.cmdLn} {
		if ln != nil {
			_ = ln.Close()
		}
	}
	b.wg.Wait()
	for _, name := range []string{pubSockName, subSockName, cmdSockName} {
		_ = os.Remove(b.path(name))
	}
	log.Printf("[broker] stopped")
}

func (b *Broker) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	defer b.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-b.closing:
				return
			default:
				log.Printf("[broker] accept: %v", err)
				return
			}
		}
		go handle(c)
	}
}

// handlePubConn registers a subscriber connection. The broker never reads
// further application data from it — it only ever writes broadcasts to it —
// but it keeps reading (and discarding) to detect disconnection.
//
// Open question (spec.md §9): the original ZeroMQ proxy has no explicit
// unsubscribe-on-disconnect step either; a publisher closing its socket and
// a subscriber closing its socket are both just "the connection goes away",
// and the XSUB/XPUB proxy does not prune any other peer's state as a
// result. This implementation matches that observed behaviour: a
// subscriber's entry is removed from b.subscribers only when ITS OWN
// connection errors or closes, never as a side effect of any other peer
// disconnecting. See broker_test.go for a pinning test.
func (b *Broker) handlePubConn(c net.Conn) {
	scanner := ipcwire.NewScanner(c)
	identity, err := ipcwire.ReadHello(scanner)
	if err != nil {
		_ = c.Close()
		return
	}

	wc := &conn{c: c}
	b.mu.Lock()
	b.subscribers[identity] = wc
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.subscribers[identity] == wc {
			delete(b.subscribers, identity)
		}
		b.mu.Unlock()
		_ = c.Close()
	}()

	// Drain the connection until it errors/closes; subscribers don't send
	// anything further after the hello frame.
	for scanner.Scan() {
	}
}

// handleSubConn reads broadcast envelopes from a publisher and fans each
// one out to every currently connected subscriber, preserving publisher
// FIFO order per publisher (a single goroutine serves this connection and
// forwards synchronously before reading the next line).
func (b *Broker) handleSubConn(c net.Conn) {
	scanner := ipcwire.NewScanner(c)
	if _, err := ipcwire.ReadHello(scanner); err != nil {
		_ = c.Close()
		return
	}
	defer c.Close()

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		line = append(line, '\n')
		b.fanOut(line)
	}
}

func (b *Broker) fanOut(line []byte) {
	b.mu.Lock()
	targets := make([]*conn, 0, len(b.subscribers))
	for _, wc := range b.subscribers {
		targets = append(targets, wc)
	}
	b.mu.Unlock()

	for _, wc := range targets {
		if err := wc.writeLine(line); err != nil {
			log.Printf("[broker] subscriber write failed: %v", err)
		}
	}
}

// handleCmdConn registers a command peer and routes its outgoing requests
// and responses to their target peer by identity, per spec.md §4.C.
func (b *Broker) handleCmdConn(c net.Conn) {
	scanner := ipcwire.NewScanner(c)
	identity, err := ipcwire.ReadHello(scanner)
	if err != nil {
		_ = c.Close()
		return
	}

	wc := &conn{c: c}
	b.mu.Lock()
	b.cmdPeers[identity] = wc
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.cmdPeers[identity] == wc {
			delete(b.cmdPeers, identity)
		}
		b.mu.Unlock()
		_ = c.Close()
	}()

	for scanner.Scan() {
		var env ipcwire.CmdEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			log.Printf("[broker] malformed command from %q: %v", identity, err)
			continue
		}
		b.route(identity, env)
	}
}

func (b *Broker) route(sender string, env ipcwire.CmdEnvelope) {
	target := env.Target
	env.Sender = sender
	env.Target = ""

	b.mu.Lock()
	targetConn, ok := b.cmdPeers[target]
	b.mu.Unlock()

	if !ok {
		b.sendRoutingError(sender, target, env.CorrID)
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[broker] marshal routed envelope: %v", err)
		return
	}
	data = append(data, '\n')
	if err := targetConn.writeLine(data); err != nil {
		log.Printf("[broker] routing to %q: %v", target, err)
		b.sendRoutingError(sender, target, env.CorrID)
	}
}

// sendRoutingError synthesises an ERR response back to sender when target
// is not currently connected, per spec.md §4.C and §8 property 6.
func (b *Broker) sendRoutingError(sender, target, corrID string) {
	b.mu.Lock()
	senderConn, ok := b.cmdPeers[sender]
	b.mu.Unlock()
	if !ok {
		return
	}

	errPayload, _ := json.Marshal(map[string]string{
		"error": fmt.Sprintf("peer not connected: %s", target),
	})
	resp := ipcwire.CmdEnvelope{
		Sender:  "broker",
		Type:    ipcwire.MsgErr,
		CorrID:  corrID,
		Payload: errPayload,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if err := senderConn.writeLine(data); err != nil {
		log.Printf("[broker] sending routing error to %q: %v", sender, err)
	}
}
