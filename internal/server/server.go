package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizzone/quizzone/internal/api"
	"github.com/quizzone/quizzone/internal/catalog"
	"github.com/quizzone/quizzone/internal/event"
	"github.com/quizzone/quizzone/internal/push"
	"github.com/quizzone/quizzone/internal/telemetry"
	"github.com/quizzone/quizzone/internal/zone"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Catalog struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Zone struct {
		MaxPlayers     int
		IntervalTimeMS int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis   redis.UniversalClient
		catalog *pgxpool.Pool
	}

	service struct {
		catalog *catalog.Service
		zone    *zone.Service
	}

	hub *push.Hub

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

// initRedis connects the pub/sub mirror client. The mirror is optional: with
// no addresses configured, results are only delivered over the websocket.
func (s *Server) initRedis() error {
	if len(s.c.Redis.Pubsub.Addrs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Pubsub.Addrs,
		Password: s.c.Redis.Pubsub.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

// initPostgres connects the quiz catalog source. Optional: without it the
// built-in catalog is served.
func (s *Server) initPostgres() error {
	pg := s.c.Postgres.Catalog
	if pg.Addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pg.User, pg.Pass, pg.Addr, pg.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.catalog = db
	return nil
}

func (s *Server) initService() error {
	s.service.catalog = catalog.NewService(catalog.Config{
		DB: s.infra.catalog,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.service.catalog.Load(ctx); err != nil {
		return err
	}

	s.hub = push.NewHub()

	s.service.zone = zone.NewService(zone.Config{
		Store:        zone.NewStore(),
		Broadcast:    s.hub,
		Catalog:      s.service.catalog,
		EventBus:     s.eb,
		MaxPlayers:   s.c.Zone.MaxPlayers,
		IntervalTime: time.Duration(s.c.Zone.IntervalTimeMS) * time.Millisecond,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	var rc api.Redis
	if s.infra.redis != nil {
		rc = s.infra.redis
	}

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Zone:         s.service.zone,
		Hub:          s.hub,
		Redis:        rc,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.catalog != nil {
		s.infra.catalog.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
