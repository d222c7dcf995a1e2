// Package store keeps the server's client registrations and file records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/openmined/filesync/internal/syncmeta"
)

var ErrClientUnknown = errors.New("client not registered")

type ClientRecord struct {
	ID        string
	PublicKey string
	LastSync  time.Time
}

// MetadataStore is shared by every connection handler. Each method is atomic on its own;
// callers never hold a transaction across calls.
type MetadataStore interface {
	// GetClient returns ErrClientUnknown when id was never registered or was unregistered.
	GetClient(ctx context.Context, id string) (*ClientRecord, error)
	// RegisterClient creates or replaces the registration, stamping it with the current time.
	RegisterClient(ctx context.Context, id, publicKey string) error
	// TouchClient records the end of a successful round for id.
	TouchClient(ctx context.Context, id string, at time.Time) error
	UnregisterClient(ctx context.Context, id string) error

	UpsertFile(ctx context.Context, rec *syncmeta.FileRecord) error
	ListFiles(ctx context.Context) (syncmeta.ChangeSet, error)

	Close() error
}
