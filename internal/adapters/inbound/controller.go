// Package inbound accepts audio clients over websocket and hands each
// connection to the relay coordinator.
package inbound

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sttrelay/internal/app"
	"github.com/dkeye/sttrelay/internal/app/relay"
	"github.com/dkeye/sttrelay/internal/core"
)

// SessionRunner runs one session to completion.
type SessionRunner interface {
	Run(ctx context.Context, sess *relay.Session, in core.InboundChannel) error
}

type StreamWSController struct {
	Runner   SessionRunner
	Registry *app.Registry
	Conn     ConnOptions
}

const requestIDHeader = "X-Request-ID"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleStream upgrades the request and blocks until the session ends.
// ctx is the server's lifetime context; the session is also cancellable
// through the registry.
func (ctl *StreamWSController) HandleStream(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("request_id"))
	if sid == "" {
		sid = core.SessionID(uuid.NewString())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := relay.NewSession(sid, c.ClientIP())
	if !ctl.Registry.Bind(sid, sess, cancel) {
		fresh := core.SessionID(uuid.NewString())
		log.Warn().Str("module", "inbound").Str("sid", string(sid)).Str("new_sid", string(fresh)).Msg("sid in use, assigned a new one")
		sid = fresh
		sess = relay.NewSession(sid, c.ClientIP())
		ctl.Registry.Bind(sid, sess, cancel)
	}
	defer ctl.Registry.Unbind(sid, sess)

	// The 101 response is written by the upgrader, not the gin writer.
	ws, err := upgrader.Upgrade(c.Writer, c.Request, http.Header{requestIDHeader: {string(sid)}})
	if err != nil {
		log.Error().Err(err).Str("module", "inbound").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "inbound").Str("sid", string(sid)).Str("remote", c.ClientIP()).Msg("new WS connection")

	conn := NewWsStreamConn(ws, ctl.Conn)
	defer conn.Close()

	err = ctl.Runner.Run(ctx, sess, conn)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrHandshakeRejected):
		log.Warn().Err(err).Str("module", "inbound").Str("sid", string(sid)).Msg("session rejected")
	default:
		log.Error().Err(err).Str("module", "inbound").Str("sid", string(sid)).Msg("session aborted")
	}
}
