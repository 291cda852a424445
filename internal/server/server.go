package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/codeclash/internal/api"
	"github.com/victornm/codeclash/internal/checker"
	"github.com/victornm/codeclash/internal/engine"
	"github.com/victornm/codeclash/internal/event"
	"github.com/victornm/codeclash/internal/game"
	"github.com/victornm/codeclash/internal/notify"
	"github.com/victornm/codeclash/internal/playbook"
	"github.com/victornm/codeclash/internal/storage"
	"github.com/victornm/codeclash/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Playbook struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Activity struct {
			Stream string
		}
	}

	Postgres struct {
		Game struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Game struct {
		Duration time.Duration
		Checker  struct {
			URL string

			// Languages accepted for submissions. Anything else is rejected
			// locally, before a checker round-trip.
			Languages []string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			pubsub   redis.UniversalClient
			playbook redis.UniversalClient
		}

		postgres struct {
			game *pgxpool.Pool
		}
	}

	core struct {
		registry   *game.Registry
		supervisor *game.Supervisor
		timer      *game.Timer
		game       *game.Service
		storage    *storage.Service
		playbook   *playbook.Recorder
		notify     *notify.Emitter
	}

	http *http.Server
	grpc *grpc.Server
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
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.infra.redis.playbook, err = connect(s.c.Redis.Playbook.Addrs, s.c.Redis.Playbook.Pass)
	if err != nil {
		return fmt.Errorf("playbook: %w", err)
	}

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

	s.infra.postgres.game, err = connect(s.c.Postgres.Game.Addr, s.c.Postgres.Game.User, s.c.Postgres.Game.Pass, s.c.Postgres.Game.Name)
	if err != nil {
		return fmt.Errorf("game: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.core.storage = storage.NewService(storage.Config{
		DB:       s.infra.postgres.game,
		EventBus: s.eb,
	})

	s.core.playbook = playbook.NewRecorder(playbook.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.playbook,
		Prefix:   s.c.Redis.Playbook.Prefix,
	})

	s.core.notify = notify.NewEmitter(notify.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.pubsub,
		Prefix:   s.c.Redis.Pubsub.Prefix,
		Activity: notify.NewRedisActivitySink(s.infra.redis.pubsub, s.c.Redis.Activity.Stream),
	})

	s.core.registry = game.NewRegistry()
	s.core.timer = game.NewTimer()
	s.core.supervisor = game.NewSupervisor(game.SupervisorConfig{
		Registry: s.core.registry,
		Bus:      s.eb,
	})

	s.core.game = game.NewService(game.Config{
		Registry:   s.core.registry,
		Supervisor: s.core.supervisor,
		Timer:      s.core.timer,
		Checker:    s.initChecker(),
		Engines: engine.NewSet(engine.Config{
			Notifier: s.core.notify,
			Bracket:  engine.NopBracket{},
		}),
		Storage:      s.core.storage,
		GameDuration: s.c.Game.Duration,
	})
}

// initChecker builds the submission judge: the remote service behind a
// per-language dispatch when languages are configured, the bare remote
// otherwise.
func (s *Server) initChecker() checker.Checker {
	remote := checker.NewRemote(s.c.Game.Checker.URL)

	if len(s.c.Game.Checker.Languages) == 0 {
		return remote
	}

	checkers := make(map[string]checker.Checker, len(s.c.Game.Checker.Languages))
	for _, lang := range s.c.Game.Checker.Languages {
		checkers[lang] = remote
	}
	return checker.NewDispatch(checkers)
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:   e,
		Game:     s.core.game,
		Playbook: s.core.playbook,
	})

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	healthpb.RegisterHealthServer(s.grpc, health.NewServer())

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Tear down session processes before draining the bus, so their side
	// effects still get dispatched.
	s.core.game.Stop()
	for _, m := range s.core.registry.List(game.Filter{}) {
		s.core.supervisor.TerminateSession(m.ID)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
