package broker

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"musicd/internal/ipcwire"
)

func startTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(t.TempDir())
	if err := b.Start(); err != nil {
		t.Fatalf("broker start: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func dialHello(t *testing.T, path, identity string) net.Conn {
	t.Helper()
	c, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if err := ipcwire.WriteHello(c, identity); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return c
}

func TestFanOutReachesAllSubscribers(t *testing.T) {
	b := startTestBroker(t)

	subA := dialHello(t, b.path(pubSockName), "a")
	defer subA.Close()
	subB := dialHello(t, b.path(pubSockName), "b")
	defer subB.Close()

	time.Sleep(20 * time.Millisecond)

	pub := dialHello(t, b.path(subSockName), "publisher")
	defer pub.Close()

	env := ipcwire.PubEnvelope{Topic: "now_playing", Payload: json.RawMessage(`{"x":1}`)}
	data, _ := json.Marshal(env)
	data = append(data, '\n')
	if _, err := pub.Write(data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []net.Conn{subA, subB} {
		sub.SetReadDeadline(time.Now().Add(2 * time.Second))
		scanner := bufio.NewScanner(sub)
		if !scanner.Scan() {
			t.Fatalf("subscriber did not receive broadcast: %v", scanner.Err())
		}
		var got ipcwire.PubEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Topic != "now_playing" {
			t.Fatalf("expected topic now_playing, got %s", got.Topic)
		}
	}
}

// TestSubscriberDisconnectDoesNotAffectOthers pins the open question noted
// in broker.go: one subscriber disconnecting must not prune any other
// peer's registration, matching the observed behaviour of the original
// ZeroMQ XSUB/XPUB proxy (no explicit unsubscribe propagation).
func TestSubscriberDisconnectDoesNotAffectOthers(t *testing.T) {
	b := startTestBroker(t)

	subA := dialHello(t, b.path(pubSockName), "a")
	subB := dialHello(t, b.path(pubSockName), "b")
	defer subB.Close()

	time.Sleep(20 * time.Millisecond)
	subA.Close()
	time.Sleep(20 * time.Millisecond)

	pub := dialHello(t, b.path(subSockName), "publisher")
	defer pub.Close()

	env := ipcwire.PubEnvelope{Topic: "t", Payload: json.RawMessage(`{}`)}
	data, _ := json.Marshal(env)
	data = append(data, '\n')
	if _, err := pub.Write(data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	subB.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(subB)
	if !scanner.Scan() {
		t.Fatalf("surviving subscriber did not receive broadcast: %v", scanner.Err())
	}
}

func TestRouteDeliversToTarget(t *testing.T) {
	b := startTestBroker(t)

	target := dialHello(t, b.path(cmdSockName), "state")
	defer target.Close()
	sender := dialHello(t, b.path(cmdSockName), "caller")
	defer sender.Close()

	time.Sleep(20 * time.Millisecond)

	req := ipcwire.CmdEnvelope{Target: "state", Type: ipcwire.MsgReq, CorrID: "c1", Method: "get", Payload: json.RawMessage(`{"key":"x"}`)}
	data, _ := json.Marshal(req)
	data = append(data, '\n')
	if _, err := sender.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	target.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(target)
	if !scanner.Scan() {
		t.Fatalf("target did not receive request: %v", scanner.Err())
	}
	var got ipcwire.CmdEnvelope
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sender != "caller" || got.Method != "get" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestRouteToUnknownTargetReturnsErrorToSender(t *testing.T) {
	b := startTestBroker(t)

	sender := dialHello(t, b.path(cmdSockName), "caller")
	defer sender.Close()
	time.Sleep(20 * time.Millisecond)

	req := ipcwire.CmdEnvelope{Target: "ghost", Type: ipcwire.MsgReq, CorrID: "c2", Method: "get", Payload: json.RawMessage(`{}`)}
	data, _ := json.Marshal(req)
	data = append(data, '\n')
	if _, err := sender.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	sender.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(sender)
	if !scanner.Scan() {
		t.Fatalf("sender did not receive routing error: %v", scanner.Err())
	}
	var got ipcwire.CmdEnvelope
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != ipcwire.MsgErr || got.CorrID != "c2" {
		t.Fatalf("expected ERR for corr_id c2, got %+v", got)
	}
}
