package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const closeGrace = time.Second

// Subscription is an open event stream. Frames are delivered in arrival
// order on a single goroutine; once Close returns no further callback
// starts.
type Subscription struct {
	conn   *websocket.Conn
	fn     func([]byte)
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	// deliver serializes callbacks against Close.
	deliver sync.Mutex

	mu  sync.Mutex
	err error
}

func newSubscription(ctx context.Context, conn *websocket.Conn, fn func([]byte), logger *zap.Logger) *Subscription {
	s := &Subscription{
		conn:   conn,
		fn:     fn,
		logger: logger,
		done:   make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	go s.readLoop(stop)
	return s
}

func (s *Subscription) readLoop(stop func() bool) {
	defer close(s.done)
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
				s.logger.Warn("subscription read failed", zap.Error(err))
			}
			s.closed.Store(true)
			_ = s.conn.Close()
			return
		}
		s.deliver.Lock()
		if s.closed.Load() {
			s.deliver.Unlock()
			continue
		}
		if s.fn != nil {
			s.fn(data)
		}
		s.deliver.Unlock()
	}
}

// Close stops delivery and tears down the connection. It is safe to call
// more than once and from any goroutine other than the callback itself.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// Wait out an in-flight callback.
		s.deliver.Lock()
		s.deliver.Unlock() //nolint:staticcheck

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			s.logger.Debug("close frame not sent", zap.Error(werr))
		}
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		s.logger.Debug("subscription closed")
	})
	return err
}

// Done is closed when the read loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended on its own, or nil if it was closed by
// the caller or is still open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
