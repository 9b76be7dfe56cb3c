package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// conn is the lifecycle shared by the stream transports: one background reader per
// connection, dispatch through a Router, and a Close that waits for the reader.
type conn struct {
	id     string
	log    zerolog.Logger
	router *Router
	state  atomic.Int32

	mu      sync.Mutex
	opened  bool
	cancel  context.CancelFunc
	done    chan struct{}
	onClose func()

	closeOnce sync.Once
}

func (c *conn) init(log zerolog.Logger, name string) {
	c.id = ulid.Make().String()
	c.log = log.With().Str("transport", name).Str("conn", c.id).Logger()
	c.router = NewRouter(c.log)
	c.state.Store(int32(Connecting))
}

// ID returns the connection id used in logs.
func (c *conn) ID() string {
	return c.id
}

// Subscribe attaches fn to events of kind on this connection.
func (c *conn) Subscribe(kind string, fn Listener) func() {
	return c.router.Subscribe(kind, fn)
}

// ReadyState reports the connection state.
func (c *conn) ReadyState() ReadyState {
	return ReadyState(c.state.Load())
}

func (c *conn) start(ctx context.Context, run func(ctx context.Context)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ReadyState() == Closed {
		return ErrClosed
	}
	if c.opened {
		return ErrAlreadyOpen
	}
	c.opened = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		run(ctx)
	}()
	return nil
}

// setCloser registers fn to run on Close before waiting for the reader.
// Used to unblock readers that do not observe context cancellation.
func (c *conn) setCloser(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadyState() == Closed {
		return false
	}
	c.onClose = fn
	return true
}

// Close stops dispatch, cancels the connection and waits for its reader to exit.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.router.Close()

		c.mu.Lock()
		c.state.Store(int32(Closed))
		cancel, done, onClose := c.cancel, c.done, c.onClose
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if onClose != nil {
			onClose()
		}
		if done != nil {
			<-done
		}
		c.log.Debug().Msg("transport closed")
	})
	return nil
}

func (c *conn) markOpen() {
	c.state.CompareAndSwap(int32(Connecting), int32(Open))
}

// deliver decodes one frame and dispatches it. Malformed frames are logged and dropped.
func (c *conn) deliver(name string, data []byte) {
	ev, ok, err := DecodeFrame(name, data)
	if err != nil {
		c.log.Warn().Err(err).Str("event", name).Msg("dropping frame")
		return
	}
	if !ok {
		return
	}
	ev.ReceivedAt = time.Now()
	c.router.Dispatch(ev)
}

// fail marks the connection closed and reports err unless the failure was caused by Close.
func (c *conn) fail(ctx context.Context, onError ErrorFunc, err error) {
	c.state.Store(int32(Closed))
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	c.log.Debug().Err(err).Msg("transport failed")
	if onError != nil {
		onError(err, true)
	}
}

// transient reports a recoverable error.
func (c *conn) transient(onError ErrorFunc, err error) {
	if onError != nil {
		onError(err, false)
	}
}
