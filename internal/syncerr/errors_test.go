package syncerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("round: %w", Protocol("read frame", io.ErrUnexpectedEOF))

	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Equal(t, KindProtocol, KindOf(err))

	assert.ErrorIs(t, err, &Error{Kind: KindProtocol, Op: "read frame"})
	assert.NotErrorIs(t, err, &Error{Kind: KindProtocol, Op: "write frame"})
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "security error: handshake: key mismatch",
		Security("handshake", errors.New("key mismatch")).Error())
	assert.Equal(t, "state error", (&Error{Kind: KindState}).Error())
	assert.Equal(t, "filesystem error: read a.txt", Filesystem("read a.txt", nil).Error())
	assert.Equal(t, "protocol error: unexpected 9", Protocolf("unexpected %d", 9).Error())
}
