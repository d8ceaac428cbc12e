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

	"github.com/qzman/qzman/internal/api"
	"github.com/qzman/qzman/internal/event"
	"github.com/qzman/qzman/internal/ledger"
	"github.com/qzman/qzman/internal/quizdata"
	"github.com/qzman/qzman/internal/room"
	"github.com/qzman/qzman/internal/router"
	"github.com/qzman/qzman/internal/scoreboard"
	"github.com/qzman/qzman/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Scoreboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		// Ledger holds the score_log table. An empty Addr switches the
		// ledger to the in-memory store (single-host LAN events).
		Ledger struct {
			Addr string
			User string
			Pass string
			Name string
		}

		// Quizdata resolves quiz ids and team rosters. Optional: when
		// Addr is empty every quiz id is admitted as an ephemeral room.
		Quizdata struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			scoreboard redis.UniversalClient
		}

		postgres struct {
			ledger   *pgxpool.Pool
			quizdata *pgxpool.Pool
		}
	}

	service struct {
		ledger     *ledger.Service
		scoreboard *scoreboard.Service
		quizdata   *quizdata.Service
		registry   *room.Registry
		router     *router.Router
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
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

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Scoreboard.Addrs,
		Password: s.c.Redis.Scoreboard.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return fmt.Errorf("scoreboard: %w", err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("scoreboard: %w", err)
	}

	s.infra.redis.scoreboard = r
	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	if c := s.c.Postgres.Ledger; c.Addr != "" {
		s.infra.postgres.ledger, err = connect(c.Addr, c.User, c.Pass, c.Name)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}

	if c := s.c.Postgres.Quizdata; c.Addr != "" {
		s.infra.postgres.quizdata, err = connect(c.Addr, c.User, c.Pass, c.Name)
		if err != nil {
			return fmt.Errorf("quizdata: %w", err)
		}
	}

	return nil
}

func (s *Server) initService() {
	var store ledger.Store
	if s.infra.postgres.ledger != nil {
		store = ledger.NewPostgresStore(s.infra.postgres.ledger)
	} else {
		slog.Warn("server: no ledger database configured, score entries are kept in memory only")
		store = ledger.NewMemoryStore()
	}

	s.service.ledger = ledger.NewService(ledger.Config{
		EventBus: s.eb,
		Store:    store,
	})

	s.service.scoreboard = scoreboard.NewService(scoreboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.scoreboard,
		Prefix:   s.c.Redis.Scoreboard.Prefix,
	})

	if s.infra.postgres.quizdata != nil {
		s.service.quizdata = quizdata.NewService(quizdata.Config{
			DB: s.infra.postgres.quizdata,
		})
	}

	s.service.registry = room.NewRegistry()

	s.service.router = router.New(router.Config{
		Registry: s.service.registry,
		Ledger:   s.service.ledger,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	c := api.Config{
		Engine:     e,
		Registry:   s.service.registry,
		Router:     s.service.router,
		Ledger:     s.service.ledger,
		Scoreboard: s.service.scoreboard,
	}
	if s.service.quizdata != nil {
		c.Quizzes = s.service.quizdata
	}
	api.New(c)

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

	slog.InfoContext(ctx, "server: shutdown completed")
}
