package fx

import (
	"warship-tracker/internal/api"
	"warship-tracker/internal/config"
	"warship-tracker/internal/database"
	"warship-tracker/internal/diff"
	"warship-tracker/internal/kv"
	"warship-tracker/internal/logger"
	"warship-tracker/internal/metrics"
	"warship-tracker/internal/queue"
	"warship-tracker/internal/repository"
	"warship-tracker/internal/scheduler"
	"warship-tracker/internal/server"
	"warship-tracker/internal/snapshot"
	"warship-tracker/internal/worker"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideStore(redisStore *kv.RedisStore) kv.Store {
	return redisStore
}

func ProvideQueue(redisStore *kv.RedisStore, cfg *config.Config, log zerolog.Logger) queue.Queue {
	return queue.NewRedisQueue(redisStore.Client(), cfg.QueueName, log)
}

func ProvideSnapshotStore(store *snapshot.Store) diff.SnapshotStore {
	return store
}

func ProvideSink(store kv.Store, log zerolog.Logger) diff.DeltaSink {
	return diff.NewKVSink(store, log)
}

func ProvideFetcher() worker.Fetcher {
	return api.NewVortexClient()
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// shared stores
	fx.Provide(kv.NewRedisStore),
	fx.Provide(ProvideStore),
	fx.Provide(ProvideQueue),
	fx.Provide(snapshot.NewStore),
	fx.Provide(ProvideSnapshotStore),
	fx.Provide(metrics.NewRecorder),
	// repos
	fx.Provide(repository.NewAccountRepository),
	fx.Provide(repository.NewEnrollmentRepository),
	fx.Provide(repository.NewBaselineRepository),
	// api client
	fx.Provide(ProvideFetcher),
	// pipeline
	fx.Provide(ProvideSink),
	fx.Provide(diff.NewEngine),
	fx.Provide(scheduler.New),
	fx.Provide(worker.NewPool),
	// server
	fx.Provide(server.NewHealthServer),
	// The logger is built before config (Load logs through it), so the
	// configured level is applied globally after the fact.
	fx.Invoke(func(cfg *config.Config) {
		zerolog.SetGlobalLevel(logger.ParseLevel(cfg.LogLevel))
	}),
)
