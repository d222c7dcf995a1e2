package wire

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/openmined/filesync/internal/syncerr"
)

// Options bounds a connection. Zero values fall back to DefaultMaxFrameSize and no
// per-operation deadline.
type Options struct {
	MaxFrameSize uint32
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Conn is a half-duplex framed connection. It is not safe for concurrent use: the
// protocol only ever has one side talking at a time.
type Conn struct {
	nc   net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	opts Options
	ctx  context.Context

	stopWatch func() bool
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps nc. When ctx is cancelled or its deadline passes the socket is closed,
// which unblocks any pending read or write.
func NewConn(ctx context.Context, nc net.Conn, opts Options) *Conn {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	c := &Conn{
		nc:   nc,
		r:    bufio.NewReaderSize(nc, 64<<10),
		w:    bufio.NewWriterSize(nc, 64<<10),
		opts: opts,
		ctx:  ctx,
	}
	c.stopWatch = context.AfterFunc(ctx, func() { nc.Close() })
	return c
}

// Dial connects to addr and wraps the socket.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer
	if opts.ReadTimeout > 0 {
		d.Timeout = opts.ReadTimeout
	}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, syncerr.Connection("dial "+addr, err)
	}
	return NewConn(ctx, nc, opts), nil
}

// MaxFrameSize is the largest payload this connection reads or writes.
func (c *Conn) MaxFrameSize() uint32 {
	return c.opts.MaxFrameSize
}

func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Read returns the next frame.
func (c *Conn) Read() (*Frame, error) {
	if err := c.nc.SetReadDeadline(c.deadline(c.opts.ReadTimeout)); err != nil {
		return nil, c.wrap(syncerr.Connection("set read deadline", err))
	}
	f, err := ReadFrame(c.r, c.opts.MaxFrameSize)
	if err != nil {
		return nil, c.wrap(err)
	}
	return f, nil
}

// Expect reads a frame and fails with a protocol error unless its type is one of allowed.
// An Error frame from the peer surfaces as a *RemoteError inside that protocol error.
func (c *Conn) Expect(allowed ...MessageType) (*Frame, error) {
	f, err := c.Read()
	if err != nil {
		return nil, err
	}
	if slices.Contains(allowed, f.Type) {
		return f, nil
	}
	if f.Type == MsgError {
		return nil, syncerr.Protocol("expect "+typeList(allowed), &RemoteError{Message: string(f.Payload)})
	}
	return nil, syncerr.Protocolf("unexpected %s, want %s", f.Type, typeList(allowed))
}

// Write sends one frame and flushes it.
func (c *Conn) Write(typ MessageType, payload []byte) error {
	if uint64(len(payload)) > uint64(c.opts.MaxFrameSize) {
		return syncerr.Protocol("write "+typ.String(), ErrFrameTooLarge)
	}
	if err := c.nc.SetWriteDeadline(c.deadline(c.opts.WriteTimeout)); err != nil {
		return c.wrap(syncerr.Connection("set write deadline", err))
	}
	if err := WriteFrame(c.w, &Frame{Type: typ, Payload: payload}); err != nil {
		return c.wrap(err)
	}
	return nil
}

// WriteError sends an Error frame with an optional message.
func (c *Conn) WriteError(msg string) error {
	return c.Write(MsgError, []byte(msg))
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.stopWatch()
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// deadline picks the earlier of now+timeout and the context deadline.
func (c *Conn) deadline(timeout time.Duration) time.Time {
	var dl time.Time
	if timeout > 0 {
		dl = time.Now().Add(timeout)
	}
	if ctxDl, ok := c.ctx.Deadline(); ok && (dl.IsZero() || ctxDl.Before(dl)) {
		dl = ctxDl
	}
	return dl
}

// wrap reports context cancellation instead of the closed-socket error it causes.
func (c *Conn) wrap(err error) error {
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		return syncerr.Connection("session", ctxErr)
	}
	return err
}

func typeList(types []MessageType) string {
	if len(types) == 1 {
		return types[0].String()
	}
	return fmt.Sprintf("%v", types)
}
