package callstate

import (
	"context"
	"database/sql"
	"fmt"

	"callkit-bridge/internal/config"
	"callkit-bridge/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenStore builds the Store selected by cfg.Store.Driver. SQL stores are
// migrated before they are returned. The returned close func releases the
// underlying connection and is never nil.
func OpenStore(ctx context.Context, cfg config.Config) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.DriverMemory, "":
		return NewMemoryStore(), noop, nil

	case config.DriverRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, noop, err
		}
		s, err := NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, noop, err
		}
		return s, rdb.Close, nil

	case config.DriverPostgres, config.DriverSQLite:
		var (
			db      *sql.DB
			err     error
			dialect Dialect
		)
		if cfg.Store.Driver == config.DriverSQLite {
			dialect = DialectSQLite
			db, err = utils.OpenSQLite(ctx, cfg.SQLite.Path)
		} else {
			dialect = DialectPostgres
			db, err = utils.OpenDB(ctx, "pgx", cfg.PostgresDSN(), utils.PoolConfig{})
		}
		if err != nil {
			return nil, noop, err
		}
		s, err := NewSQLStore(db, dialect)
		if err == nil {
			err = s.Migrate(ctx)
		}
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return s, db.Close, nil
	}
	return nil, noop, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}
