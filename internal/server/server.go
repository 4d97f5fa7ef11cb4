package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/pubsub"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/ws"
)

const connectTimeout = 10 * time.Second

type RedisConfig struct {
	Addrs  []string `mapstructure:"addrs"`
	Pass   string   `mapstructure:"pass"`
	Prefix string   `mapstructure:"prefix"`
}

func (c RedisConfig) enabled() bool { return len(c.Addrs) > 0 }

type PostgresConfig struct {
	Addr string `mapstructure:"addr"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	Name string `mapstructure:"name"`
}

func (c PostgresConfig) enabled() bool { return c.Addr != "" }

type GameConfig struct {
	QuizDir            string        `mapstructure:"quiz_dir"`
	TimeLimitStep      time.Duration `mapstructure:"time_limit_step"`
	MaxTimeLimitTier   int           `mapstructure:"max_time_limit_tier"`
	HostPolicy         string        `mapstructure:"host_policy"`
	RequireHostToStart bool          `mapstructure:"require_host_to_start"`
	EventBuffer        int           `mapstructure:"event_buffer"`
}

type Config struct {
	HTTP struct {
		Port int32 `mapstructure:"port"`

		// PublicURL is the address players open to join, encoded by /qr.
		PublicURL string `mapstructure:"public_url"`
	} `mapstructure:"http"`

	GRPC struct {
		Port int32 `mapstructure:"port"`
	} `mapstructure:"grpc"`

	Game GameConfig `mapstructure:"game"`

	WS ws.Config `mapstructure:"ws"`

	EventBus struct {
		PoolSize int           `mapstructure:"pool_size"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"event_bus"`

	Redis struct {
		Leaderboard RedisConfig `mapstructure:"leaderboard"`
		Pubsub      RedisConfig `mapstructure:"pubsub"`
	} `mapstructure:"redis"`

	Postgres struct {
		Results PostgresConfig `mapstructure:"results"`
	} `mapstructure:"postgres"`

	Log telemetry.LogConfig `mapstructure:"log"`
}

// DefaultConfig runs a session on the local quiz catalog with no redis or postgres.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Game = GameConfig{
		QuizDir:          "quizzes",
		TimeLimitStep:    10 * time.Second,
		MaxTimeLimitTier: 3,
		HostPolicy:       string(player.HostPolicyKeep),
		EventBuffer:      256,
	}
	c.WS = ws.DefaultConfig()
	c.EventBus.PoolSize = 1024
	c.EventBus.Timeout = 30 * time.Second
	c.Redis.Leaderboard.Prefix = "livequiz"
	c.Redis.Pubsub.Prefix = "livequiz"
	c.Log = telemetry.LogConfig{Level: "info", Format: "text"}
	return c
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.GRPC.Port <= 0 {
		return fmt.Errorf("ports must be positive: http=%d grpc=%d", c.HTTP.Port, c.GRPC.Port)
	}
	if c.HTTP.Port == c.GRPC.Port {
		return fmt.Errorf("http and grpc share port %d", c.HTTP.Port)
	}
	if c.Game.QuizDir == "" {
		return fmt.Errorf("game.quiz_dir is required")
	}
	if c.Game.TimeLimitStep <= 0 {
		return fmt.Errorf("game.time_limit_step must be positive, got %s", c.Game.TimeLimitStep)
	}
	if c.Game.MaxTimeLimitTier < 0 {
		return fmt.Errorf("game.max_time_limit_tier must not be negative, got %d", c.Game.MaxTimeLimitTier)
	}
	if _, err := player.ParseHostPolicy(c.Game.HostPolicy); err != nil {
		return err
	}

	return nil
}

type Server struct {
	c Config

	eb       *event.Bus
	registry *prometheus.Registry

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			results *pgxpool.Pool
		}
	}

	service struct {
		catalog     *quiz.Catalog
		session     *game.Session
		leaderboard *leaderboard.Service
		score       *score.Service
		publisher   *pubsub.Publisher
		metrics     *telemetry.Metrics
	}

	ws     *ws.Handler
	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(ctx context.Context, c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus(
		event.WithPoolSize(c.EventBus.PoolSize),
		event.WithTimeout(c.EventBus.Timeout),
	)

	if err := s.initInfra(ctx); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(ctx); err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra(ctx context.Context) error {
	if err := s.initRedis(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(ctx); err != nil {
		s.closeInfra()
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis(ctx context.Context) error {
	connect := func(name string, rc RedisConfig) (redis.UniversalClient, error) {
		if !rc.enabled() {
			slog.InfoContext(ctx, "server: redis not configured, skipping", "client", name)
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			_ = r.Close()
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			_ = r.Close()
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		s.closeInfra()
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres(ctx context.Context) error {
	pc := s.c.Postgres.Results
	if !pc.enabled() {
		slog.InfoContext(ctx, "server: postgres not configured, results are not archived")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("results: %w", err)
	}

	s.infra.postgres.results = db
	return nil
}

func (s *Server) initService(ctx context.Context) error {
	policy, err := player.ParseHostPolicy(s.c.Game.HostPolicy)
	if err != nil {
		return err
	}

	s.service.catalog, err = quiz.LoadCatalog(s.c.Game.QuizDir)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	s.service.session = game.NewSession(game.SessionConfig{
		Catalog:            s.service.catalog,
		EventBus:           s.eb,
		HostPolicy:         policy,
		TimeLimitStep:      s.c.Game.TimeLimitStep,
		MaxTimeLimitTier:   s.c.Game.MaxTimeLimitTier,
		RequireHostToStart: s.c.Game.RequireHostToStart,
		EventBuffer:        s.c.Game.EventBuffer,
	})

	s.ws = ws.NewHandler(s.service.session, s.c.WS)

	if r := s.infra.redis.leaderboard; r != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    r,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
		})
	}

	if r := s.infra.redis.pubsub; r != nil {
		s.service.publisher = pubsub.New(pubsub.Config{
			EventBus: s.eb,
			Redis:    r,
			Prefix:   s.c.Redis.Pubsub.Prefix,
		})
	}

	if db := s.infra.postgres.results; db != nil {
		s.service.score = score.NewService(score.Config{
			EventBus: s.eb,
			DB:       db,
		})

		if err := s.service.score.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.service.metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{
		EventBus:    s.eb,
		Registerer:  s.registry,
		Connections: s.ws.Connections,
	})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	return nil
}

func (s *Server) initAPI() {
	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start serves the session, HTTP and gRPC until ctx is done or one of them fails,
// then shuts everything down.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("server: grpc listen: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, "server: session loop started")
		return s.service.session.Run(ctx)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
		return err
	}

	return nil
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()

	if err := s.ws.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: close websocket connections failed", "error", err)
	}

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.grpc.GracefulStop()
	s.eb.Stop()
	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeInfra() {
	for name, r := range map[string]redis.UniversalClient{
		"leaderboard": s.infra.redis.leaderboard,
		"pubsub":      s.infra.redis.pubsub,
	} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			slog.Error("server: close redis failed", "client", name, "error", err)
		}
	}
	s.infra.redis.leaderboard, s.infra.redis.pubsub = nil, nil

	if s.infra.postgres.results != nil {
		s.infra.postgres.results.Close()
		s.infra.postgres.results = nil
	}
}
