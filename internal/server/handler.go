package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filesync/internal/identity"
	"github.com/openmined/filesync/internal/ignore"
	"github.com/openmined/filesync/internal/reconcile"
	"github.com/openmined/filesync/internal/server/store"
	"github.com/openmined/filesync/internal/syncerr"
	"github.com/openmined/filesync/internal/syncmeta"
	"github.com/openmined/filesync/internal/utils"
	"github.com/openmined/filesync/internal/wire"
)

var errKeyMismatch = errors.New("public key does not match registration")

// handler is the server side of one connection.
type handler struct {
	conn   *wire.Conn
	store  store.MetadataStore
	ignore *ignore.List
	root   string
	log    *slog.Logger
	now    func() time.Time

	clientID string
	received int
	sent     int
	deleted  int
	bytesIn  int64
	bytesOut int64
}

func (h *handler) run(ctx context.Context) error {
	first, err := h.conn.Read()
	if err != nil {
		return err
	}

	switch first.Type {
	case wire.MsgUnregister:
		return h.unregister(ctx, strings.TrimSpace(string(first.Payload)))
	case wire.MsgHandshake:
	default:
		_ = h.conn.WriteError("expected handshake")
		return syncerr.Protocolf("first frame was %s", first.Type)
	}

	if err := h.handshake(ctx, first.Payload); err != nil {
		return err
	}

	f, err := h.conn.Expect(wire.MsgListRequest)
	if err != nil {
		return err
	}
	clientSet, err := syncmeta.UnmarshalChangeSet(f.Payload)
	if err != nil {
		return syncerr.Protocol("client list", err)
	}
	live, tombstones := clientSet.Counts()
	h.log.Debug("client list", "client", h.clientID, "live", live, "tombstones", tombstones)

	view, err := mergeDisk(ctx, h.root, h.store, h.ignore, h.now)
	if err != nil {
		return err
	}
	if err := h.applyClientList(ctx, clientSet, view); err != nil {
		return err
	}

	view, err = mergeDisk(ctx, h.root, h.store, h.ignore, h.now)
	if err != nil {
		return err
	}
	payload, err := view.List().Marshal()
	if err != nil {
		return fmt.Errorf("encode server list: %w", err)
	}
	if err := h.conn.Write(wire.MsgListResponse, payload); err != nil {
		return err
	}

	if err := h.serveRequests(); err != nil {
		return err
	}

	if err := h.store.TouchClient(ctx, h.clientID, h.now()); err != nil {
		h.log.Warn("failed to record last sync", "client", h.clientID, "error", err)
	}
	h.log.Info("sync round complete",
		"client", h.clientID,
		"received", h.received,
		"sent", h.sent,
		"deleted", h.deleted,
		"in", humanize.IBytes(uint64(h.bytesIn)),
		"out", humanize.IBytes(uint64(h.bytesOut)),
	)
	return nil
}

func (h *handler) unregister(ctx context.Context, clientID string) error {
	if clientID == "" {
		_ = h.conn.WriteError("missing client id")
		return syncerr.Protocolf("unregister without client id")
	}
	h.clientID = clientID
	if err := h.store.UnregisterClient(ctx, clientID); err != nil {
		_ = h.conn.WriteError("unregister failed")
		return err
	}
	h.log.Info("client unregistered", "client", clientID)
	return nil
}

// handshake registers unknown clients and checks known ones present the same key.
func (h *handler) handshake(ctx context.Context, payload []byte) error {
	hs, err := wire.ParseHandshake(payload)
	if err != nil {
		_ = h.conn.WriteError("invalid handshake")
		return syncerr.Protocol("handshake", err)
	}
	h.clientID = hs.ClientID

	rec, err := h.store.GetClient(ctx, hs.ClientID)
	switch {
	case errors.Is(err, store.ErrClientUnknown):
		if err := h.store.RegisterClient(ctx, hs.ClientID, hs.PublicKey); err != nil {
			_ = h.conn.WriteError("registration failed")
			return err
		}
		h.log.Info("client registered", "client", hs.ClientID, "fingerprint", identity.Fingerprint(hs.PublicKey))
	case err != nil:
		_ = h.conn.WriteError("internal error")
		return err
	case rec.PublicKey != hs.PublicKey:
		_ = h.conn.WriteError(wire.KeyMismatchMessage)
		return syncerr.Security("handshake "+hs.ClientID, errKeyMismatch)
	}

	return h.conn.Write(wire.MsgHandshake, wire.AckPayload)
}

func (h *handler) applyClientList(ctx context.Context, clientSet syncmeta.ChangeSet, view *diskView) error {
	for _, theirs := range clientSet {
		if h.ignore.ShouldIgnore(theirs.RelativePath) {
			h.log.Debug("ignoring client record", "path", theirs.RelativePath)
			continue
		}

		d := reconcile.Decide(view.Get(theirs.RelativePath), theirs, reconcile.RoleServer)
		if d.Action != reconcile.Noop {
			h.log.Debug("reconcile", "path", d.Path, "action", d.Action, "reason", d.Reason)
		}

		switch d.Action {
		case reconcile.DeleteLocal:
			if err := h.deleteLocal(ctx, theirs); err != nil {
				return err
			}
		case reconcile.Fetch:
			if err := h.fetch(ctx, theirs); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteLocal removes the file and stores the client's tombstone. A failed removal leaves
// the record alone so the file is not reported deleted while still on disk.
func (h *handler) deleteLocal(ctx context.Context, theirs *syncmeta.FileRecord) error {
	path, err := syncmeta.LocalPath(h.root, theirs.RelativePath)
	if err != nil {
		return syncerr.Protocol("delete", err)
	}
	if err := utils.RemoveFile(path); err != nil {
		h.log.Warn("delete failed", "path", theirs.RelativePath,
			"error", syncerr.Filesystem("delete "+theirs.RelativePath, err))
		return nil
	}
	if err := h.store.UpsertFile(ctx, theirs); err != nil {
		return err
	}
	h.deleted++
	h.log.Info("deleted", "client", h.clientID, "path", theirs.RelativePath)
	return nil
}

func (h *handler) fetch(ctx context.Context, theirs *syncmeta.FileRecord) error {
	if err := h.conn.Write(wire.MsgFileRequest, []byte(theirs.RelativePath)); err != nil {
		return err
	}
	f, err := h.conn.Read()
	if err != nil {
		return err
	}
	switch f.Type {
	case wire.MsgFileResponse:
	case wire.MsgError:
		h.log.Warn("client could not send file", "path", theirs.RelativePath,
			"error", &wire.RemoteError{Message: string(f.Payload)})
		return nil
	default:
		return syncerr.Protocolf("unexpected %s, want %s", f.Type, wire.MsgFileResponse)
	}

	path, err := syncmeta.LocalPath(h.root, theirs.RelativePath)
	if err != nil {
		return syncerr.Protocol("fetch", err)
	}
	if err := utils.WriteFileWithModTime(path, f.Payload, theirs.LastModified); err != nil {
		h.log.Warn("write failed", "path", theirs.RelativePath,
			"error", syncerr.Filesystem("write "+theirs.RelativePath, err))
		return nil
	}

	rec := theirs.Clone()
	rec.Deleted = false
	rec.Size = int64(len(f.Payload))
	if err := h.store.UpsertFile(ctx, rec); err != nil {
		return err
	}
	h.received++
	h.bytesIn += int64(len(f.Payload))
	h.log.Info("received", "client", h.clientID, "path", theirs.RelativePath,
		"size", humanize.IBytes(uint64(len(f.Payload))))
	return nil
}

// serveRequests answers file requests until the client ends the round.
func (h *handler) serveRequests() error {
	for {
		f, err := h.conn.Expect(wire.MsgFileRequest, wire.MsgEndOfSync)
		if err != nil {
			return err
		}
		if f.Type == wire.MsgEndOfSync {
			return nil
		}

		relPath := string(f.Payload)
		path, err := syncmeta.LocalPath(h.root, relPath)
		if err != nil {
			_ = h.conn.WriteError("invalid path")
			return syncerr.Protocol("file request", err)
		}

		var data []byte
		if h.ignore.ShouldIgnore(relPath) {
			err = os.ErrNotExist
		} else {
			data, err = os.ReadFile(path)
		}
		if err == nil && uint64(len(data)) > uint64(h.conn.MaxFrameSize()) {
			err = wire.ErrFrameTooLarge
		}
		if err != nil {
			h.log.Warn("cannot serve file", "path", relPath, "error", syncerr.Filesystem("read "+relPath, err))
			if err := h.conn.WriteError(relPath + ": not available"); err != nil {
				return err
			}
			continue
		}

		if err := h.conn.Write(wire.MsgFileResponse, data); err != nil {
			return err
		}
		h.sent++
		h.bytesOut += int64(len(data))
		h.log.Debug("sent", "client", h.clientID, "path", relPath, "size", humanize.IBytes(uint64(len(data))))
	}
}
