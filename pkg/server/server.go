// Package server wires and runs the indexer.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/cardano-indexer/pkg/api"
	"github.com/ethpandaops/cardano-indexer/pkg/clickhouse"
	"github.com/ethpandaops/cardano-indexer/pkg/config"
	"github.com/ethpandaops/cardano-indexer/pkg/genesis"
	"github.com/ethpandaops/cardano-indexer/pkg/leaderelection"
	"github.com/ethpandaops/cardano-indexer/pkg/observability"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/redis"
	"github.com/ethpandaops/cardano-indexer/pkg/sink"
	"github.com/ethpandaops/cardano-indexer/pkg/source"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
)

// Server runs the indexer and its HTTP endpoints.
type Server struct {
	log    logrus.FieldLogger
	config *config.Config

	redis     *r.Client
	store     store.Store
	pipeline  *Pipeline
	sink      *sink.Sink
	elector   leaderelection.Elector
	ch        *clickhouse.Client
	telemetry *perf.ClickHouseReporter

	pprofServer   *http.Server
	healthServer  *http.Server
	apiServer     *http.Server
}

// NewServer validates cfg and wires every component. Nothing runs until Start.
func NewServer(ctx context.Context, log logrus.FieldLogger, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    log,
		config: cfg,
	}

	var (
		reporter perf.Reporter = perf.NewLogReporter(log)
		samples  perf.SampleSink
	)

	if cfg.Telemetry.ClickHouse != nil {
		cfg.Telemetry.ClickHouse.Network = cfg.Network

		client, err := clickhouse.New(log, cfg.Telemetry.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("failed to create clickhouse client: %w", err)
		}

		s.ch = client
		s.telemetry = perf.NewClickHouseReporter(log, client, perf.ClickHouseConfig{
			Network:       cfg.Network,
			Samples:       cfg.Telemetry.Samples,
			MaxRows:       cfg.Telemetry.MaxRows,
			FlushInterval: cfg.Telemetry.FlushInterval,
		})

		reporter = perf.MultiReporter{reporter, s.telemetry}

		if cfg.Telemetry.Samples {
			samples = s.telemetry
		}
	}

	var err error

	s.store, err = OpenStore(ctx, log, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s.pipeline, err = NewPipeline(ctx, log, s.store, cfg.ExecutionPlan, PipelineOptions{
		Network:        cfg.Network,
		Readonly:       cfg.Readonly,
		MaxParallelism: cfg.Dispatcher.MaxParallelism,
		Samples:        samples,
	})
	if err != nil {
		return nil, errors.Join(err, s.store.Close())
	}

	s.redis, err = redis.New(cfg.Redis)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create redis client: %w", err), s.store.Close())
	}

	deps := s.pipeline.SinkDependencies(
		s.store,
		source.NewRedis(log, s.redis, cfg.Redis.Prefix, cfg.Network, cfg.Source),
		reporter,
	)

	if cfg.Genesis.File != "" {
		deps.GenesisFile, err = genesis.Load(cfg.Genesis.File)
		if err != nil {
			return nil, errors.Join(err, s.close())
		}
	}

	if cfg.LeaderElection.Enabled {
		s.elector, err = leaderelection.NewRedisElector(s.redis, log, cfg.Redis.Key("leader", cfg.Network), &leaderelection.Config{
			TTL:             cfg.LeaderElection.TTL,
			RenewalInterval: cfg.LeaderElection.RenewalInterval,
			NodeID:          cfg.LeaderElection.NodeID,
			Network:         cfg.Network,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create leader elector: %w", err), s.close())
		}

		deps.Elector = s.elector
	}

	s.sink, err = sink.New(log, sink.Config{
		Network:          cfg.Network,
		Readonly:         cfg.Readonly,
		ProgressInterval: cfg.ProgressInterval,
	}, deps)
	if err != nil {
		return nil, errors.Join(err, s.close())
	}

	return s, nil
}

// Start runs the sink and the HTTP servers until ctx is done, a signal arrives or the sink fails.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redis.Ping(ctx, s.redis); err != nil {
		return err
	}

	if s.telemetry != nil {
		if err := s.ch.Start(ctx); err != nil {
			return fmt.Errorf("failed to start clickhouse client: %w", err)
		}

		if err := s.telemetry.Start(ctx); err != nil {
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return observability.StartMetricsServer(ctx, s.log, s.config.MetricsAddr)
	})

	if s.config.PProfAddr != nil {
		s.pprofServer = &http.Server{
			Addr:              *s.config.PProfAddr,
			ReadHeaderTimeout: 120 * time.Second,
		}

		g.Go(func() error {
			return s.serve("pprof", s.pprofServer)
		})
	}

	if s.config.HealthCheckAddr != nil {
		s.healthServer = &http.Server{
			Addr:              *s.config.HealthCheckAddr,
			ReadHeaderTimeout: 120 * time.Second,
			Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}),
		}

		g.Go(func() error {
			return s.serve("healthcheck", s.healthServer)
		})
	}

	if s.config.APIAddr != nil {
		h := api.NewHandler(s.log, s.config.Network, s.sink, s.pipeline.Dispatcher, s.pipeline.Tasks, s.pipeline.Phases)
		s.apiServer = api.NewServer(*s.config.APIAddr, h)

		g.Go(func() error {
			return s.serve("api", s.apiServer)
		})
	}

	if s.elector != nil {
		if err := s.elector.Start(ctx); err != nil {
			return fmt.Errorf("failed to start leader election: %w", err)
		}
	}

	g.Go(func() error {
		if err := s.sink.Run(ctx); err != nil {
			return fmt.Errorf("sink stopped: %w", err)
		}

		return nil
	})

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()

		return s.stop()
	})

	return g.Wait()
}

func (s *Server) serve(name string, srv *http.Server) error {
	s.log.WithField("addr", srv.Addr).Infof("Starting %s server", name)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}

	return nil
}

func (s *Server) stop() error {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	if s.elector != nil {
		if err := s.elector.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to stop leader election")
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to flush telemetry")
		}
	}

	for name, srv := range map[string]*http.Server{
		"pprof":       s.pprofServer,
		"healthcheck": s.healthServer,
		"api":         s.apiServer,
	} {
		if srv == nil {
			continue
		}

		if err := srv.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Errorf("failed to shutdown %s server", name)
		}
	}

	if err := observability.StopMetricsServer(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop metrics server")
	}

	if err := s.close(); err != nil {
		s.log.WithError(err).Error("failed to close connections")
	}

	s.log.Info("Indexer stopped gracefully")

	return nil
}

// close releases the store, redis and clickhouse connections.
func (s *Server) close() error {
	var errs []error

	if s.ch != nil {
		errs = append(errs, s.ch.Stop())
	}

	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}

	if s.store != nil {
		errs = append(errs, s.store.Close())
	}

	return errors.Join(errs...)
}
