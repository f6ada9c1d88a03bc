package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/minnowchess/minnow/internal"
	"github.com/minnowchess/minnow/internal/api"
	"github.com/minnowchess/minnow/internal/engine"
	"github.com/minnowchess/minnow/internal/journal"
	"github.com/minnowchess/minnow/internal/logger"
	"github.com/minnowchess/minnow/internal/metrics"
	"github.com/minnowchess/minnow/internal/queue"
)

// drainTimeout bounds how long shutdown waits for in-flight submissions.
const drainTimeout = 30 * time.Second

func runWorker(cmd *cobra.Command, flags *commonFlags, environ []string) error {
	log := logger.New(flags.verbose)
	defer log.Sync()

	config, err := flags.load(cmd, environ)
	if err != nil {
		return err
	}

	cleanup := internal.NewCleanupManager(log.Zap())
	defer cleanup.Execute()

	session := internal.GenerateSession()

	endpoint, err := config.EndpointURL()
	if err != nil {
		return err
	}
	cores, err := config.ResolveCores()
	if err != nil {
		return err
	}
	userBacklog, err := config.Backlog.UserDuration()
	if err != nil {
		return err
	}
	systemBacklog, err := config.Backlog.SystemDuration()
	if err != nil {
		return err
	}

	log.Info("starting worker",
		zap.String("session", session.ID()),
		zap.String("endpoint", endpoint.String()),
		zap.Int("cores", cores),
		zap.String("engine", config.Engine.Path))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	observers := []queue.Observer{}

	var m *metrics.Metrics
	if config.MetricsAddr != "" {
		m = metrics.New()
		observers = append(observers, m)
	}

	if config.Journal != "" {
		j, err := journal.Open(config.Journal)
		if err != nil {
			return err
		}
		cleanup.Add("journal", j.Close)
		observers = append(observers, journal.NewObserver(j, log.Zap()))
	}

	client := api.NewClient(api.Options{
		Endpoint:   endpoint,
		Key:        config.Key,
		Version:    version,
		UserAgent:  session.UserAgent(version),
		EngineName: filepath.Base(config.Engine.Path),
		EngineOptions: map[string]string{
			"hash":    fmt.Sprint(config.Engine.Hash),
			"threads": fmt.Sprint(config.Engine.Threads),
		},
		Logger: log.Zap(),
	})

	stub, actor := queue.New(client, queue.Options{
		Endpoint:      endpoint,
		Slots:         cores,
		UserBacklog:   userBacklog,
		SystemBacklog: systemBacklog,
		Observer:      queue.CombineObservers(observers...),
	}, log)

	// First signal stops acquisition and lets queued positions finish; a
	// second one aborts pending batches and tears the workers down.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
		case <-ctx.Done():
			return
		}
		log.Info("stopping after queued positions finish; interrupt again to abort")
		stub.ShutdownSoon()

		select {
		case <-signals:
		case <-ctx.Done():
			return
		}
		log.Warn("aborting pending batches")
		stub.Shutdown()
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		actor.Run(gctx)
		return nil
	})

	pool := engine.NewPool(cores, config.Engine, log.Zap())
	g.Go(func() error {
		// Once every worker has stopped there is nothing left to feed;
		// stop the actor, watchers, and metrics server too.
		defer cancel()
		return pool.Run(gctx, stub)
	})

	if m != nil {
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", config.MetricsAddr))
			return m.Serve(gctx, config.MetricsAddr)
		})
	}

	if !flags.noConf {
		confPath := flags.conf
		if confPath == "" {
			confPath = internal.DefaultConfigFile
		}
		if _, err := os.Stat(confPath); err == nil {
			g.Go(func() error {
				return internal.WatchConfig(gctx, confPath, environ, log.Zap(), func(updated internal.Config) {
					user, err := updated.Backlog.UserDuration()
					if err != nil {
						return
					}
					system, err := updated.Backlog.SystemDuration()
					if err != nil {
						return
					}
					stub.SetBacklog(user, system)
				})
			})
		}
	}

	runErr := g.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := stub.Drain(drainCtx); err != nil {
		log.Warn("shutdown drain incomplete, some results may be lost", zap.Error(err))
	}

	stats := stub.Stats()
	log.Info("worker stopped",
		zap.Uint64("batches", stats.TotalBatches),
		zap.Uint64("positions", stats.TotalPositions),
		zap.Uint64("nodes", stats.TotalNodes))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
