package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/haruyam15/meomok/internal/app"
	"github.com/haruyam15/meomok/internal/ingest"
	"github.com/haruyam15/meomok/internal/paginate"
	elasticstore "github.com/haruyam15/meomok/internal/storage/elastic"
	"github.com/haruyam15/meomok/internal/storage/memory"
	mongostore "github.com/haruyam15/meomok/internal/storage/mongo"
	"github.com/haruyam15/meomok/internal/storage/postgis"
	"github.com/haruyam15/meomok/internal/tiles"
)

// placeBackend is what every storage engine adapter provides.
type placeBackend interface {
	ingest.PlaceStore
	paginate.NearbyStore
	tiles.Store
}

type storage struct {
	backend placeBackend
	ping    func(ctx context.Context) error
	closeFn func(ctx context.Context)
}

func (s *storage) close() {
	if s.closeFn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeFn(ctx)
}

func openStorage(ctx context.Context, cfg app.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.StorageBackend {
	case app.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		store := mongostore.NewStore(client, cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo ensure indexes: %w", err)
		}
		logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))
		return &storage{
			backend: store,
			ping: func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			},
			closeFn: func(ctx context.Context) {
				if err := client.Disconnect(ctx); err != nil {
					logger.Warn("mongo disconnect failed", slog.String("error", err.Error()))
				}
			},
		}, nil

	case app.BackendPostGIS:
		store, err := postgis.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgis connect: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("postgis ensure schema: %w", err)
		}
		logger.Info("postgis connected")
		return &storage{
			backend: store,
			ping:    store.Ping,
			closeFn: func(context.Context) { store.Close() },
		}, nil

	case app.BackendElastic:
		client, err := elasticstore.NewClient(cfg.ElasticURL)
		if err != nil {
			return nil, fmt.Errorf("elastic connect: %w", err)
		}
		store := elasticstore.NewStore(client, elasticstore.DefaultPlacesIndex, elasticstore.DefaultTilesIndex)
		if err := store.EnsureIndexes(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("elastic ensure indexes: %w", err)
		}
		logger.Info("elasticsearch connected", slog.String("url", cfg.ElasticURL))
		return &storage{
			backend: store,
			ping:    store.Ping,
			closeFn: func(context.Context) { store.Close() },
		}, nil

	case app.BackendMemory:
		store := memory.New()
		logger.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			backend: store,
			ping:    store.Ping,
			closeFn: func(ctx context.Context) { _ = store.Close(ctx) },
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
