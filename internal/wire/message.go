package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type MessageType uint32

const (
	MsgHandshake    MessageType = 1
	MsgListRequest  MessageType = 2
	MsgListResponse MessageType = 3
	MsgFileRequest  MessageType = 4
	MsgFileResponse MessageType = 5
	MsgEndOfSync    MessageType = 6
	MsgUnregister   MessageType = 7
	MsgError        MessageType = 255
)

func (t MessageType) String() string {
	switch t {
	case MsgHandshake:
		return "HANDSHAKE"
	case MsgListRequest:
		return "LIST_REQUEST"
	case MsgListResponse:
		return "LIST_RESPONSE"
	case MsgFileRequest:
		return "FILE_REQUEST"
	case MsgFileResponse:
		return "FILE_RESPONSE"
	case MsgEndOfSync:
		return "END_OF_SYNC"
	case MsgUnregister:
		return "UNREGISTER"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("???(%d)", uint32(t))
	}
}

// Frame is one complete protocol message.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// AckPayload is what the server sends back in its Handshake frame once a client is accepted.
var AckPayload = []byte("OK")

// IsAck reports whether f is one of the two frame shapes a client accepts as the reply to
// its handshake.
func IsAck(f *Frame) bool {
	return f != nil && (f.Type == MsgHandshake || f.Type == MsgListResponse)
}

// KeyMismatchMessage is the Error payload a server answers a handshake with when the
// client's public key differs from its registration. Other handshake refusals carry other
// messages.
const KeyMismatchMessage = "public key mismatch"

var ErrHandshakeIncomplete = errors.New("handshake missing ClientId or PublicKey")

// Handshake is the client's opening message.
type Handshake struct {
	ClientID  string `json:"ClientId"`
	PublicKey string `json:"PublicKey"`
}

func (h *Handshake) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

func ParseHandshake(data []byte) (*Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	h.ClientID = strings.TrimSpace(h.ClientID)
	h.PublicKey = strings.TrimSpace(h.PublicKey)
	if h.ClientID == "" || h.PublicKey == "" {
		return nil, ErrHandshakeIncomplete
	}
	return &h, nil
}

// RemoteError carries the message of an Error frame received from the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "peer reported an error"
	}
	return "peer reported an error: " + e.Message
}
