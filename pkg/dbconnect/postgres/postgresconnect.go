package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	_ "github.com/lib/pq"

	"gomarket_pricewatch/config"
	"gomarket_pricewatch/pkg/logger"
)

const maxRetries = 10
const dbMaxOpenConns = 20
const retryDelay = 5 * time.Second

type PostgresDatabase struct {
	config.DbConfig
	log logger.Logger
	db  *sql.DB
	mu  sync.Mutex // Для защиты доступа к db
}

func NewPgConnector(dbConfig config.DbConfig, log logger.Logger) *PostgresDatabase {
	if log == nil {
		log = logger.Discard()
	}
	return &PostgresDatabase{DbConfig: dbConfig, log: log}
}

// Connect opens the pool, retrying until the server answers a ping.
func (pg *PostgresDatabase) Connect(ctx context.Context) (*sql.DB, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.db != nil {
		return pg.db, nil
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			db, err := sql.Open("postgres", pg.GetConnectionString())
			if err != nil {
				return err
			}
			db.SetMaxOpenConns(dbMaxOpenConns)
			if err := db.PingContext(ctx); err != nil {
				db.Close()
				return err
			}
			pg.db = db
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			pg.log.Warn("failed to connect to Postgres (attempt %d/%d): %v", attempt, maxRetries, err)
		},
		Attempts: maxRetries,
		Delay:    retryDelay,
		Clock:    clock.WallClock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", retry.LastError(err))
	}
	pg.log.Log("successfully connected to Postgres")
	return pg.db, nil
}

func (pg *PostgresDatabase) Ping(ctx context.Context) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.db == nil {
		return fmt.Errorf("database connection is not established")
	}

	if err := pg.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (pg *PostgresDatabase) Close() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.db == nil {
		return nil
	}
	err := pg.db.Close()
	pg.db = nil
	return err
}
