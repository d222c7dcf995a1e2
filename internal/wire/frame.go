// Package wire implements the framed TCP protocol spoken between the sync client and
// server. A frame is an 8 byte little-endian header (message type, payload length)
// followed by the payload.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filesync/internal/syncerr"
)

const (
	HeaderSize = 8

	// DefaultMaxFrameSize bounds the payload a peer may declare before we refuse to read it.
	DefaultMaxFrameSize uint32 = 100 << 20
)

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ReadFrame reads exactly one frame from r. The declared length is checked against
// maxSize before any payload buffer is allocated.
func ReadFrame(r io.Reader, maxSize uint32) (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, classifyIOError("read frame header", err)
	}

	typ := MessageType(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	if length > maxSize {
		return nil, syncerr.Protocol("read frame",
			fmt.Errorf("%w: %s declares %s, limit %s", ErrFrameTooLarge, typ,
				humanize.IBytes(uint64(length)), humanize.IBytes(uint64(maxSize))))
	}

	frame := &Frame{Type: typ}
	if length > 0 {
		frame.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, frame.Payload); err != nil {
			return nil, classifyIOError("read frame payload", err)
		}
	}
	return frame, nil
}

// WriteFrame writes the header and payload in one buffer and flushes w when it buffers.
func WriteFrame(w io.Writer, f *Frame) error {
	if uint64(len(f.Payload)) > uint64(^uint32(0)) {
		return syncerr.Protocol("write frame", ErrFrameTooLarge)
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)

	if _, err := w.Write(buf); err != nil {
		return classifyIOError("write frame", err)
	}
	if bw, ok := w.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			return classifyIOError("flush frame", err)
		}
	}
	return nil
}

// classifyIOError separates transport failures (timeouts, resets, closed sockets) from a
// peer that hung up in the middle of a frame.
func classifyIOError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.As(err, &netErr) && netErr.Timeout():
		return syncerr.Connection(op, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe):
		return syncerr.Protocol(op, fmt.Errorf("peer closed connection: %w", err))
	default:
		return syncerr.Connection(op, err)
	}
}
