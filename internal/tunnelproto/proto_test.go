package tunnelproto

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBodyEncoding(t *testing.T) {
	t.Parallel()

	if EncodeBody(nil) != "" {
		t.Fatal("expected empty encoding for nil body")
	}
	got, err := DecodeBody("")
	if err != nil || got != nil {
		t.Fatalf("expected nil body, got %v %v", got, err)
	}
	payload := []byte{0x00, 0x01, 0x7f, 0xff}
	got, err = DecodeBody(EncodeBody(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %v", got)
	}
	if _, err := DecodeBody("%%%"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCloneHeadersIsDeep(t *testing.T) {
	t.Parallel()

	src := map[string][]string{"X-A": {"1", "2"}}
	dst := CloneHeaders(src)
	dst["X-A"][0] = "changed"
	if src["X-A"][0] != "1" {
		t.Fatal("clone shares backing array with source")
	}
}

func TestMessageOmitsEmptyPayloads(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Message{Kind: KindPing})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"kind":"ping"}` {
		t.Fatalf("unexpected encoding %s", b)
	}
}

func TestErrorReply(t *testing.T) {
	t.Parallel()

	resp := ErrorReply("req_1", 502, "local upstream unavailable")
	if resp.ID != "req_1" || resp.Status != 502 {
		t.Fatalf("unexpected reply %+v", resp)
	}
	body, _ := DecodeBody(resp.BodyB64)
	if string(body) != "local upstream unavailable" {
		t.Fatalf("unexpected body %q", body)
	}
}

type fakeConn struct {
	mu       sync.Mutex
	writes   []any
	failNext bool
	closed   int
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return errors.New("broken pipe")
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func TestWriterSerializesAndClosesOnFailure(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	w := newWriter(conn, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Write(Message{Kind: KindPong})
		}()
	}
	wg.Wait()
	if len(conn.writes) != 16 {
		t.Fatalf("expected 16 writes, got %d", len(conn.writes))
	}

	conn.failNext = true
	if err := w.Write(Message{Kind: KindPong}); err == nil {
		t.Fatal("expected write failure")
	}
	if err := w.Write(Message{Kind: KindPong}); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	w.Close()
	if conn.closed != 1 {
		t.Fatalf("expected a single close, got %d", conn.closed)
	}
}
