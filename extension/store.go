package extension

import (
	"context"
	"fmt"

	"github.com/xraph/genquota/store"
	"github.com/xraph/genquota/store/memory"
	"github.com/xraph/genquota/store/mongo"
	"github.com/xraph/genquota/store/postgres"
	"github.com/xraph/genquota/store/redis"
	"github.com/xraph/genquota/store/sqlite"
)

// OpenStore constructs the backend named by cfg.Driver. The caller owns the
// returned store and closes it, usually through the engine's Stop.
func OpenStore(ctx context.Context, cfg DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		return opened(sqlite.Open(cfg.DSN))
	case DriverPostgres:
		return opened(postgres.Open(ctx, cfg.DSN))
	case DriverMongo:
		name := cfg.Name
		if name == "" {
			name = DefaultConfig().Database.Name
		}
		return opened(mongo.Open(cfg.DSN, name))
	case DriverRedis:
		var opts []redis.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, redis.WithKeyPrefix(cfg.KeyPrefix))
		}
		return opened(redis.Open(cfg.DSN, opts...))
	default:
		return nil, fmt.Errorf("genquota: unknown database driver %q", cfg.Driver)
	}
}

// opened keeps a failed open from surfacing as a non-nil store.Store
// holding a nil pointer.
func opened[S store.Store](s S, err error) (store.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
