package session

import (
	"context"
	"log/slog"

	"github.com/openmined/filesync/internal/syncerr"
	"github.com/openmined/filesync/internal/wire"
)

// Unregister asks the server to forget clientID. The server closes the connection once the
// registration is gone, so end-of-stream is the success signal.
func Unregister(ctx context.Context, addr, clientID string, opts wire.Options) error {
	conn, err := wire.Dial(ctx, addr, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Write(wire.MsgUnregister, []byte(clientID)); err != nil {
		return err
	}

	f, err := conn.Read()
	switch {
	case err == nil && f.Type == wire.MsgError:
		return syncerr.Protocol("unregister", &wire.RemoteError{Message: string(f.Payload)})
	case err == nil:
		slog.Warn("unexpected reply to unregister", "type", f.Type)
	case syncerr.KindOf(err) != syncerr.KindProtocol:
		return err
	}

	slog.Info("unregistered", "client", clientID, "server", addr)
	return nil
}
