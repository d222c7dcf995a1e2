// Package session runs one client sync round against the server.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filesync/internal/client/tracker"
	"github.com/openmined/filesync/internal/reconcile"
	"github.com/openmined/filesync/internal/syncerr"
	"github.com/openmined/filesync/internal/syncmeta"
	"github.com/openmined/filesync/internal/utils"
	"github.com/openmined/filesync/internal/wire"
)

type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateSendingChanges
	StateAwaitingServerList
	StateApplyingServerList
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateSendingChanges:
		return "sending changes"
	case StateAwaitingServerList:
		return "awaiting server list"
	case StateApplyingServerList:
		return "applying server list"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

type Options struct {
	Addr      string
	ClientID  string
	PublicKey string
	Wire      wire.Options
	// Timeout bounds the whole round. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// Stats summarises a finished round.
type Stats struct {
	Sent       int
	Received   int
	Uploaded   int
	Downloaded int
	Deleted    int
	Pruned     int
	BytesUp    int64
	BytesDown  int64
	Skipped    int
}

// Session drives a single round. It is not reusable.
type Session struct {
	root    string
	tracker *tracker.Tracker
	opts    Options

	conn   *wire.Conn
	state  State
	stats  Stats
	unsent []string
	now    func() time.Time
}

func New(root string, tr *tracker.Tracker, opts Options) *Session {
	return &Session{
		root:    root,
		tracker: tr,
		opts:    opts,
		now:     time.Now,
	}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) setState(st State) {
	slog.Debug("sync session", "state", st)
	s.state = st
}

// Run performs the round. The known state is persisted only when every step succeeded;
// any failure leaves it untouched and is returned as one error naming the failed step.
func (s *Session) Run(ctx context.Context, mode tracker.Mode) (*Stats, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	defer s.setState(StateClosed)

	start := time.Now()
	if err := s.run(ctx, mode); err != nil {
		return nil, fmt.Errorf("sync round failed while %s: %w", s.state, err)
	}

	slog.Info("sync round complete",
		"sent", s.stats.Sent,
		"received", s.stats.Received,
		"uploaded", s.stats.Uploaded,
		"downloaded", s.stats.Downloaded,
		"deleted", s.stats.Deleted,
		"up", humanize.IBytes(uint64(s.stats.BytesUp)),
		"down", humanize.IBytes(uint64(s.stats.BytesDown)),
		"took", time.Since(start).Round(time.Millisecond),
	)
	stats := s.stats
	return &stats, nil
}

func (s *Session) run(ctx context.Context, mode tracker.Mode) error {
	s.setState(StateConnecting)
	conn, err := wire.Dial(ctx, s.opts.Addr, s.opts.Wire)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.conn = conn

	s.setState(StateHandshaking)
	if err := s.handshake(); err != nil {
		return err
	}

	s.setState(StateSendingChanges)
	scan, err := s.tracker.Scan(mode)
	if err != nil {
		return err
	}
	payload, err := scan.Changes.Marshal()
	if err != nil {
		return fmt.Errorf("encode change set: %w", err)
	}
	if err := conn.Write(wire.MsgListRequest, payload); err != nil {
		return err
	}
	s.stats.Sent = len(scan.Changes)
	slog.Info("sent changes", "mode", mode, "count", len(scan.Changes),
		"new", scan.New, "modified", scan.Modified, "deleted", scan.Deleted)

	s.setState(StateAwaitingServerList)
	list, err := s.awaitServerList()
	if err != nil {
		return err
	}

	if list != nil {
		s.setState(StateApplyingServerList)
		if err := s.apply(list); err != nil {
			return err
		}
	}

	s.setState(StateFinalizing)
	return s.finalize(list != nil)
}

func (s *Session) handshake() error {
	hs := &wire.Handshake{ClientID: s.opts.ClientID, PublicKey: s.opts.PublicKey}
	payload, err := hs.Marshal()
	if err != nil {
		return fmt.Errorf("encode handshake: %w", err)
	}
	if err := s.conn.Write(wire.MsgHandshake, payload); err != nil {
		return err
	}

	reply, err := s.conn.Read()
	if err != nil {
		return err
	}
	switch {
	case wire.IsAck(reply):
		slog.Debug("handshake accepted", "server", s.conn.RemoteAddr())
	case reply.Type == wire.MsgError && string(reply.Payload) == wire.KeyMismatchMessage:
		return syncerr.Security("handshake", &wire.RemoteError{Message: string(reply.Payload)})
	case reply.Type == wire.MsgError:
		// refused for another reason (rate limit, server failure); only this round fails
		return syncerr.Connection("handshake", &wire.RemoteError{Message: string(reply.Payload)})
	default:
		slog.Warn("unexpected handshake reply", "type", reply.Type)
	}
	return nil
}

// awaitServerList answers the server's file requests until it sends its own list. A nil
// change set means the server ended the round without one.
func (s *Session) awaitServerList() (syncmeta.ChangeSet, error) {
	for {
		f, err := s.conn.Expect(wire.MsgFileRequest, wire.MsgListResponse, wire.MsgEndOfSync)
		if err != nil {
			return nil, err
		}

		switch f.Type {
		case wire.MsgFileRequest:
			if err := s.serveFile(string(f.Payload)); err != nil {
				return nil, err
			}
		case wire.MsgListResponse:
			set, err := syncmeta.UnmarshalChangeSet(f.Payload)
			if err != nil {
				return nil, syncerr.Protocol("server list", err)
			}
			return set, nil
		case wire.MsgEndOfSync:
			slog.Debug("server ended round without a list")
			return nil, nil
		}
	}
}

// serveFile sends the bytes of relPath, or an Error frame when the file cannot be read.
// Only connection failures are returned.
func (s *Session) serveFile(relPath string) error {
	path, err := syncmeta.LocalPath(s.root, relPath)
	if err != nil {
		return syncerr.Protocol("file request", err)
	}

	data, err := os.ReadFile(path)
	if err == nil && uint64(len(data)) > uint64(s.conn.MaxFrameSize()) {
		err = wire.ErrFrameTooLarge
	}
	if err != nil {
		slog.Warn("cannot serve file", "path", relPath, "error", syncerr.Filesystem("read "+relPath, err))
		s.stats.Skipped++
		s.unsent = append(s.unsent, relPath)
		return s.conn.WriteError(relPath + ": " + errorMessage(err))
	}

	if err := s.conn.Write(wire.MsgFileResponse, data); err != nil {
		return err
	}
	s.stats.Uploaded++
	s.stats.BytesUp += int64(len(data))
	slog.Info("uploaded", "path", relPath, "size", humanize.IBytes(uint64(len(data))))
	return nil
}

func (s *Session) apply(list syncmeta.ChangeSet) error {
	s.stats.Received = len(list)
	for _, theirs := range list {
		if s.tracker.Ignored(theirs.RelativePath) {
			slog.Debug("ignoring server record", "path", theirs.RelativePath)
			continue
		}
		d := reconcile.Decide(s.tracker.Get(theirs.RelativePath), theirs, reconcile.RoleClient)
		if d.Action != reconcile.Noop {
			slog.Debug("reconcile", "path", d.Path, "action", d.Action, "reason", d.Reason)
		}

		switch d.Action {
		case reconcile.DeleteLocal:
			s.deleteLocal(theirs)
		case reconcile.Fetch:
			if err := s.fetch(theirs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) deleteLocal(theirs *syncmeta.FileRecord) {
	path, err := syncmeta.LocalPath(s.root, theirs.RelativePath)
	if err != nil {
		slog.Warn("skip delete", "path", theirs.RelativePath, "error", err)
		return
	}
	if err := utils.RemoveFile(path); err != nil {
		slog.Warn("delete failed", "path", theirs.RelativePath,
			"error", syncerr.Filesystem("delete "+theirs.RelativePath, err))
		s.stats.Skipped++
		return
	}
	if s.tracker.Get(theirs.RelativePath) != nil {
		s.stats.Deleted++
		slog.Info("deleted", "path", theirs.RelativePath)
	}
	s.tracker.Forget(theirs.RelativePath)
}

// fetch pulls one file. A refusal from the server or a local write failure skips the path;
// only connection and protocol failures are returned.
func (s *Session) fetch(theirs *syncmeta.FileRecord) error {
	if err := s.conn.Write(wire.MsgFileRequest, []byte(theirs.RelativePath)); err != nil {
		return err
	}
	f, err := s.conn.Read()
	if err != nil {
		return err
	}
	switch f.Type {
	case wire.MsgFileResponse:
	case wire.MsgError:
		slog.Warn("server could not send file", "path", theirs.RelativePath,
			"error", &wire.RemoteError{Message: string(f.Payload)})
		s.stats.Skipped++
		return nil
	default:
		return syncerr.Protocolf("unexpected %s, want %s", f.Type, wire.MsgFileResponse)
	}

	path, err := syncmeta.LocalPath(s.root, theirs.RelativePath)
	if err == nil {
		err = utils.WriteFileWithModTime(path, f.Payload, theirs.LastModified)
	}
	if err != nil {
		slog.Warn("write failed", "path", theirs.RelativePath,
			"error", syncerr.Filesystem("write "+theirs.RelativePath, err))
		s.stats.Skipped++
		return nil
	}

	rec := theirs.Clone()
	rec.Size = int64(len(f.Payload))
	s.tracker.Put(rec)
	s.stats.Downloaded++
	s.stats.BytesDown += int64(len(f.Payload))
	slog.Info("downloaded", "path", theirs.RelativePath, "size", humanize.IBytes(uint64(len(f.Payload))))
	return nil
}

// finalize stamps the round, requeues uploads that failed, persists the known state and
// tells the server we are done.
// When the server already ended the round there is nobody left to tell.
func (s *Session) finalize(serverWaiting bool) error {
	s.stats.Pruned = s.tracker.Complete(s.now())
	for _, rel := range s.unsent {
		s.tracker.Requeue(rel)
	}
	if len(s.unsent) > 0 {
		slog.Warn("files not uploaded, offering them again next round", "count", len(s.unsent), "paths", s.unsent)
	}
	if err := s.tracker.Persist(); err != nil {
		slog.Error("persist known state", "error", err)
	}
	if !serverWaiting {
		return nil
	}
	return s.conn.Write(wire.MsgEndOfSync, nil)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "not found"
	case errors.Is(err, wire.ErrFrameTooLarge):
		return "too large"
	default:
		return err.Error()
	}
}
