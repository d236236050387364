package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/admin"
	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
	"github.com/cloudide-dev/workspace-orchestrator/internal/depcache"
	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/loghub"
	"github.com/cloudide-dev/workspace-orchestrator/internal/objectstore"
	"github.com/cloudide-dev/workspace-orchestrator/internal/orchestrator"
	"github.com/cloudide-dev/workspace-orchestrator/internal/pool"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
	"github.com/cloudide-dev/workspace-orchestrator/internal/reconciler"
	"github.com/cloudide-dev/workspace-orchestrator/internal/sessionstore"
)

const (
	serviceName     = "workspace-orchestrator"
	defaultPoolVCPU = 2
)

var commitSHA string

func run() int {
	ctx, cancel := context.WithCancel(context.Background()) // root context
	defer cancel()

	var debug bool
	flag.BoolVar(&debug, "debug", false, "enable local/development logging")
	flag.Parse()

	l, err := logging.New(debug)
	if err != nil {
		os.Exit(1)
	}
	defer l.Sync()

	serviceInstanceID := uuid.New().String()
	l.Info("starting control plane", zap.String("commit_sha", commitSHA), zap.String("instance_id", serviceInstanceID))

	config, err := cfg.Parse()
	if err != nil {
		l.Fatal("error parsing config", zap.Error(err))
	}

	providerClient := provider.New(config.Provider, l)
	objectStore := objectstore.New(config.Store, l)

	sessionStore, closeStore, err := buildSessionStore(config.Store, l)
	if err != nil {
		l.Fatal("error constructing session store", zap.Error(err))
	}

	poolMgr, err := pool.New(
		config.Pool, config.Provider, providerClient, l,
		config.Orchestrator.ImageRef, config.Orchestrator.DevServerMemoryDefaultMB, defaultPoolVCPU,
	)
	if err != nil {
		l.Fatal("error constructing pool manager", zap.Error(err))
	}

	depCache := depcache.New(providerClient, objectStore, l)
	logHub := loghub.New()

	orch := orchestrator.New(
		config.Orchestrator, config.Detection, poolMgr, providerClient, objectStore,
		sessionStore, depCache, logHub, l,
	)

	rec := reconciler.New(config.Reconciler, config.Pool, providerClient, poolMgr, sessionStore, orch, logHub, l)

	adminServer := admin.New(config.Admin, poolMgr, orch, depCache, rec, l)

	var cleanupFns []func(context.Context) error
	cleanupFns = append(cleanupFns, func(context.Context) error { depCache.Close(); return nil })
	if closeStore != nil {
		cleanupFns = append(cleanupFns, closeStore)
	}

	exitCode := &atomic.Int32{}
	cleanupOnce := &sync.Once{}
	cleanup := func() {
		cleanupOnce.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			cwg := &sync.WaitGroup{}
			for idx := range cleanupFns {
				if op := cleanupFns[idx]; op != nil {
					cwg.Add(1)
					go func(op func(context.Context) error) {
						defer cwg.Done()
						if err := op(shutdownCtx); err != nil {
							exitCode.Add(1)
							l.Error("cleanup operation error", zap.Error(err))
						}
					}(op)
				}
			}
			cwg.Wait()
		})
	}
	defer cleanup()

	signalCtx, sigCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer sigCancel()

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	wg.Go(func() {
		defer cancel()
		rec.Run(signalCtx)
		l.Info("reconciler stopped")
	})

	wg.Go(func() {
		defer cancel()

		l.Info("admin http surface starting", zap.String("addr", config.Admin.ListenAddr))
		if err := adminServer.Run(signalCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			exitCode.Add(1)
			l.Error("admin http surface encountered error", zap.Error(err))
		} else {
			l.Info("admin http surface shutdown successfully")
		}
	})

	<-signalCtx.Done()
	l.Info("shutdown signal received, waiting for background work to stop")

	wg.Wait()
	cleanup()

	return int(exitCode.Load())
}

// buildSessionStore selects the Redis-backed store when configured,
// otherwise the single-file store (spec §4.3: "default file-backed JSON;
// optional Redis backend for multi-process control planes").
func buildSessionStore(c cfg.StoreConfig, l *zap.Logger) (sessionstore.Store, func(context.Context) error, error) {
	if c.RedisAddr == "" {
		store, err := sessionstore.NewFileStore(c.SessionStorePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{c.RedisAddr}})
	l.Info("using redis-backed session store", zap.String("addr", c.RedisAddr))

	store := sessionstore.NewRedisStore(client, c.RedisPrefix)
	closeFn := func(context.Context) error { return client.Close() }

	return store, closeFn, nil
}

func main() {
	os.Exit(run())
}
