package pointxgo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks github.com/arhyth/pointxgo Repository

type Repository interface {
	// GetAccount returns a zero-balance account for a user never written.
	GetAccount(ctx context.Context, userID int64) (*Account, error)
	PutBalance(ctx context.Context, userID, balance int64) (*Account, error)
	AppendTransaction(ctx context.Context, userID, amount int64, kind TxKind, ts time.Time) (*Transaction, error)
	// GetTransactions returns a user's history in insertion order.
	GetTransactions(ctx context.Context, userID int64) ([]Transaction, error)
}

// TxRepository is implemented by stores that can commit several writes
// atomically. fn receives a Repository bound to the open transaction.
type TxRepository interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// OpenRepository builds the store selected by cfg.Database.Driver. The
// returned close function releases its connections.
func OpenRepository(cfg *Config, log *zerolog.Logger) (Repository, func(), error) {
	switch cfg.Database.Driver {
	case DriverPostgres:
		pg, err := NewPostgresEndpoint(cfg.Database.ConnectionString, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg, pg.Close, nil
	case DriverSQLite:
		sq, err := NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sq, func() {
			if err := sq.Close(); err != nil {
				log.Err(err).Msg("error closing sqlite store")
			}
		}, nil
	case DriverMemory:
		mem := NewMemoryStore(WithLatency(cfg.Memory.MinLatency, cfg.Memory.MaxLatency))
		return mem, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
