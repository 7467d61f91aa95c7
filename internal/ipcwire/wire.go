// Package ipcwire defines the wire format shared by the broker and its
// peers: newline-delimited JSON envelopes over local Unix-domain sockets,
// in the same style as the teacher's control-stream protocol (one JSON
// object per line, read with a bufio.Scanner).
package ipcwire

import (
	"bufio"
	"encoding/json"
	"io"
)

// MsgType enumerates the three command message kinds from spec.md §4.C.
type MsgType string

const (
	MsgReq MsgType = "REQ"
	MsgRes MsgType = "RES"
	MsgErr MsgType = "ERR"
)

// PubEnvelope is one line of traffic on the pub/sub sockets.
type PubEnvelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// CmdEnvelope is one line of traffic on the command socket. Send frames set
// Target (and leave Sender empty — the broker fills it in); receive frames
// set Sender (and leave Target empty).
//
//	send: [target | msg_type | corr_id | method | payload]
//	recv: [sender | msg_type | corr_id | method_or_empty | payload]
type CmdEnvelope struct {
	Target  string          `json:"target,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Type    MsgType         `json:"type"`
	CorrID  string          `json:"corr_id"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// helloEnvelope is the first line a peer writes on any socket it connects
// to, registering its identity with the broker.
type helloEnvelope struct {
	Identity string `json:"identity"`
}

// maxLineBytes bounds a single JSON line; command and broadcast payloads
// are small control messages, never audio data.
const maxLineBytes = 4 << 20

// WriteHello sends the identity-registration line a peer must write
// immediately after connecting to any broker socket.
func WriteHello(w io.Writer, identity string) error {
	return writeLine(w, helloEnvelope{Identity: identity})
}

// ReadHello reads the identity-registration line.
func ReadHello(r *bufio.Scanner) (string, error) {
	if !r.Scan() {
		if err := r.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	var h helloEnvelope
	if err := json.Unmarshal(r.Bytes(), &h); err != nil {
		return "", err
	}
	return h.Identity, nil
}

// NewScanner returns a bufio.Scanner configured for newline-delimited JSON
// with a buffer large enough for control-message payloads.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineBytes)
	return s
}

func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WritePub writes a PubEnvelope as one JSON line.
func WritePub(w io.Writer, env PubEnvelope) error { return writeLine(w, env) }

// WriteCmd writes a CmdEnvelope as one JSON line.
func WriteCmd(w io.Writer, env CmdEnvelope) error { return writeLine(w, env) }
