package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/filesync/internal/client/config"
	"github.com/openmined/filesync/internal/client/session"
	"github.com/openmined/filesync/internal/client/tracker"
	"github.com/openmined/filesync/internal/client/workspace"
	"github.com/openmined/filesync/internal/ignore"
	"github.com/openmined/filesync/internal/wire"
)

type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
}

func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.HasIdentity() {
		return nil, config.ErrNoIdentity
	}

	ws, err := workspace.NewWorkspace(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Client{config: cfg, workspace: ws}, nil
}

// RunSync performs one sync round. full sends every tracked record instead of only what
// changed since the last successful round.
func (c *Client) RunSync(ctx context.Context, full bool) (*session.Stats, error) {
	if err := c.workspace.Setup(); err != nil {
		return nil, fmt.Errorf("failed to set up workspace: %w", err)
	}
	defer func() {
		if err := c.workspace.Unlock(); err != nil {
			slog.Warn("failed to release workspace lock", "error", err)
		}
	}()

	ignoreList, err := ignore.New(c.workspace.Root, nil, nil)
	if err != nil {
		return nil, err
	}

	mode := tracker.ModeDelta
	if full {
		mode = tracker.ModeFull
	}

	slog.Info("sync start", "server", c.config.Addr(), "root", c.workspace.Root, "mode", mode)
	tr := tracker.Open(c.workspace.Root, c.workspace.StatePath, ignoreList)
	return session.New(c.workspace.Root, tr, c.sessionOptions()).Run(ctx, mode)
}

// Unregister asks the server to drop this client's registration. The next sync registers
// the same identity again.
func (c *Client) Unregister(ctx context.Context) error {
	return session.Unregister(ctx, c.config.Addr(), c.config.ClientID, c.wireOptions())
}

func (c *Client) ServerAddress() string {
	return c.config.ServerAddress
}

func (c *Client) ServerPort() int {
	return c.config.ServerPort
}

func (c *Client) RootPath() string {
	return c.config.RootPath
}

func (c *Client) ServerPublicKey() string {
	return c.config.ServerPublicKey
}

// Status is a local summary; it never contacts the server.
type Status struct {
	ClientID   string
	Server     string
	RootPath   string
	LastSync   time.Time
	Live       int
	Tombstones int
}

func (c *Client) Status() (*Status, error) {
	state, err := tracker.LoadState(c.workspace.StatePath)
	if err != nil {
		return nil, err
	}
	live, tombstones := state.Counts()
	st := &Status{
		ClientID:   c.config.ClientID,
		Server:     c.config.Addr(),
		RootPath:   c.workspace.Root,
		Live:       live,
		Tombstones: tombstones,
	}
	if state.LastSync != nil {
		st.LastSync = *state.LastSync
	}
	return st, nil
}

func (c *Client) wireOptions() wire.Options {
	return wire.Options{
		MaxFrameSize: c.config.MaxFrameSize,
		ReadTimeout:  c.config.ReadTimeout.Std(),
		WriteTimeout: c.config.WriteTimeout.Std(),
	}
}

func (c *Client) sessionOptions() session.Options {
	return session.Options{
		Addr:      c.config.Addr(),
		ClientID:  c.config.ClientID,
		PublicKey: c.config.PublicKey,
		Wire:      c.wireOptions(),
		Timeout:   c.config.SessionTimeout.Std(),
	}
}
