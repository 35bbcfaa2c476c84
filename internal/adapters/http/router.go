package http

import (
	"context"
	"net/http"

	"github.com/dkeye/duocast/internal/adapters/signal"
	"github.com/dkeye/duocast/internal/app"
	"github.com/dkeye/duocast/internal/app/orch"
	"github.com/dkeye/duocast/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionName = "DuocastSessions"

// ClientTokenMiddleware gives every browser a stable token kept in the cookie session.
// It only correlates reconnects in logs; it grants nothing.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("ct").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("ct", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type roomResponse struct {
	Streamers       []string `json:"streamers"`
	Watchers        []string `json:"watchers"`
	StreamAvailable bool     `json:"streamAvailable"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gate *app.EngineGate) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/healthz", func(c *gin.Context) {
		state := gate.State()
		code := http.StatusOK
		if state != app.EngineReady {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"engine": state.String()})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o,
		signal.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Interval),
		signal.Options{
			ReadLimit:      cfg.ReadLimit,
			PingPeriod:     cfg.PingPeriod,
			PongWait:       cfg.PongWait,
			WriteWait:      cfg.WriteWait,
			RequestTimeout: cfg.RequestTimeout,
		})

	api := r.Group("/api")

	api.GET("/room", func(c *gin.Context) {
		snap := o.RoomState()
		resp := roomResponse{
			Streamers:       make([]string, 0, len(snap.Streamers)),
			Watchers:        make([]string, 0, len(snap.Watchers)),
			StreamAvailable: snap.StreamAvailable(),
		}
		for _, id := range snap.Streamers {
			resp.Streamers = append(resp.Streamers, string(id))
		}
		for _, id := range snap.Watchers {
			resp.Watchers = append(resp.Watchers, string(id))
		}
		c.JSON(http.StatusOK, resp)
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
