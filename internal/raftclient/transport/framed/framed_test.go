package framed

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/tokmesh/cluster-go/internal/raftclient"
)

// newPipe wires a client conn (the real implementation under test) to
// a bare net.Conn standing in for the server side of net.Pipe.
func newPipe(t *testing.T) (*conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := &conn{
		nc:       client,
		w:        bufio.NewWriter(client),
		r:        bufio.NewReader(client),
		waiters:  make(map[uint64]waiter),
		handlers: make(map[string]func(any)),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, server
}

func writeFrame(t *testing.T, w net.Conn, env envelope) {
	t.Helper()
	frame, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		t.Fatalf("write length prefix: %v", err)
	}
	if _, err := w.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrameRaw(t *testing.T, r *bufio.Reader) envelope {
	t.Helper()
	frame, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestConn_SendAndReceiveRoundTrip(t *testing.T) {
	c, server := newPipe(t)
	serverR := bufio.NewReader(server)

	done := make(chan struct{})
	go func() {
		defer close(done)
		env := readFrameRaw(t, serverR)
		if env.Kind != "Command" || env.ID == 0 {
			t.Errorf("unexpected request envelope: %#v", env)
		}
		resp, _ := json.Marshal(&raftclient.OperationResponse{Status: raftclient.StatusOK, Code: raftclient.CodeOK, Index: 9})
		writeFrame(t, server, envelope{Kind: "Command", ID: env.ID, Payload: resp})
	}()

	resp, err := c.SendAndReceive(context.Background(), &raftclient.CommandRequest{Sequence: 1})
	if err != nil {
		t.Fatalf("SendAndReceive: %v", err)
	}
	op, ok := resp.(*raftclient.OperationResponse)
	if !ok || op.Index != 9 {
		t.Errorf("expected OperationResponse{Index:9}, got %#v", resp)
	}
	<-done
}

func TestConn_DispatchesAsyncPublishEvent(t *testing.T) {
	c, server := newPipe(t)

	received := make(chan *raftclient.PublishEvent, 1)
	c.Handler("PublishEvent", func(msg any) {
		received <- msg.(*raftclient.PublishEvent)
	})

	payload, _ := json.Marshal(&raftclient.PublishEvent{EventIndex: 3, Name: "tick", Payload: []byte("x")})
	writeFrame(t, server, envelope{Kind: "PublishEvent", ID: 0, Payload: payload})

	select {
	case ev := <-received:
		if ev.EventIndex != 3 || ev.Name != "tick" {
			t.Errorf("unexpected event: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}
}

func TestConn_SendAndReceiveHonorsContextDeadline(t *testing.T) {
	c, server := newPipe(t)
	// Drain the request so the client's write can complete; the server
	// just never answers it.
	go io.Copy(io.Discard, server)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.SendAndReceive(ctx, &raftclient.CommandRequest{Sequence: 1}); err == nil {
		t.Error("expected a deadline error")
	}
}

func TestConn_CloseFailsPendingWaiters(t *testing.T) {
	c, server := newPipe(t)
	go io.Copy(io.Discard, server)

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.SendAndReceive(context.Background(), &raftclient.CommandRequest{Sequence: 1})
		resultCh <- err
	}()

	// Give the goroutine a chance to register its waiter before closing.
	time.Sleep(10 * time.Millisecond)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-resultCh:
		if err == nil {
			t.Error("expected an error after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SendAndReceive to fail after Close")
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	c, _ := newPipe(t)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestConn_FiresOnCloseOnReadError(t *testing.T) {
	c, server := newPipe(t)

	closed := make(chan error, 1)
	c.OnClose(func(err error) { closed <- err })

	server.Close()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("expected a non-nil close cause from the read error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onClose")
	}
}

func TestClassify_RejectsUnknownRequestType(t *testing.T) {
	if _, _, err := classify("not a request"); err == nil {
		t.Error("expected classify to reject an unrecognized request type")
	}
}
