package tunnelproto

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWriterClosed is returned by [Writer.Write] after the writer is closed.
var ErrWriterClosed = errors.New("tunnel writer closed")

// Writer serializes JSON messages onto a websocket connection. Gorilla
// connections allow one concurrent writer; forwarded responses arrive from
// many goroutines.
type Writer struct {
	conn    jsonConn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

type jsonConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// NewWriter wraps conn. A failed write closes the connection so the read
// loop observes the failure.
func NewWriter(conn *websocket.Conn, timeout time.Duration) *Writer {
	return newWriter(conn, timeout)
}

func newWriter(conn jsonConn, timeout time.Duration) *Writer {
	return &Writer{conn: conn, timeout: timeout}
}

// Write sends msg with the configured deadline.
func (w *Writer) Write(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			w.closeLocked()
			return err
		}
		defer func() { _ = w.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := w.conn.WriteJSON(msg); err != nil {
		w.closeLocked()
		return err
	}
	return nil
}

// Close marks the writer closed and closes the connection once.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *Writer) closeLocked() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.conn.Close()
}
