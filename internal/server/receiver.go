package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/dispatch"
)

// responseBufferSize is the largest UDP payload a backend can send.
const responseBufferSize = 65535

// receiveResponses reads backend answers from conn and hands them to the
// engine until ctx is done. The buffer is reused across reads because the
// engine copies what it keeps.
func receiveResponses(ctx context.Context, e *dispatch.Engine, b *backend.Backend, conn *net.UDPConn, logger *slog.Logger) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, responseBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Connected UDP sockets report ICMP errors as reads.
			logger.Debug("backend read failed", "backend", b.Name, "err", err)
			continue
		}
		out := e.HandleResponse(b, buf, n)
		if out.Kind == dispatch.Dropped {
			logger.Debug("backend response dropped", "backend", b.Name, "reason", out.Reason)
		}
	}
}
