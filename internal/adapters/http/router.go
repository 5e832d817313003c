package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sttrelay/internal/adapters/inbound"
	"github.com/dkeye/sttrelay/internal/config"
	transport "github.com/dkeye/sttrelay/internal/transport/http"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags each request with an id, reusing the caller's
// X-Request-ID when present. Stream sessions use it as their sid.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

type Deps struct {
	Stream   *inbound.StreamWSController
	Handlers *transport.Handlers
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	limiter := NewConnectLimiter(cfg.WS.ConnectsPerMinute, time.Minute)
	r.GET("/ws", limiter.Middleware(), func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("request_id")).Msg("ws stream endpoint hit")
		deps.Stream.HandleStream(ctx, c)
	})

	r.GET("/dump", deps.Handlers.Dump)
	r.GET("/healthz", deps.Handlers.Health)

	api := r.Group("/api")
	api.GET("/sessions", deps.Handlers.ListSessions)
	api.DELETE("/sessions/:sid", deps.Handlers.CancelSession)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Int("connects_per_minute", cfg.WS.ConnectsPerMinute).Msg("router setup")
	return r
}
