package pointxgo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var (
	pgSelectAcctSQL = `
		SELECT balance, updated_at
		FROM user_points
		WHERE user_id = $1;
	`

	pgUpsertAcctSQL = `
		INSERT INTO user_points (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		RETURNING balance, updated_at;
	`

	pgInsertTxnSQL = `
		INSERT INTO point_transactions (user_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id;
	`

	pgSelectTxnsSQL = `
		SELECT id, kind, amount, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY id;
	`
)

// pgQuerier is the subset of *pgxpool.Pool that pgx.Tx also provides.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresEndpoint struct {
	pool *pgxpool.Pool
	q    pgQuerier
	log  *zerolog.Logger
}

var (
	_ TxRepository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(connStr string, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	endpt := &PostgresEndpoint{
		pool: pool,
		q:    pool,
		log:  log,
	}
	return endpt, err
}

func (pg *PostgresEndpoint) Close() {
	if pg.pool != nil {
		pg.pool.Close()
	}
}

func (pg *PostgresEndpoint) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	acct := &Account{UserID: userID}
	row := pg.q.QueryRow(ctx, pgSelectAcctSQL, userID)
	if err := row.Scan(&acct.Balance, &acct.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			acct.UpdatedAt = time.Now()
			return acct, nil
		}
		return nil, err
	}
	return acct, nil
}

func (pg *PostgresEndpoint) PutBalance(ctx context.Context, userID, balance int64) (*Account, error) {
	acct := &Account{UserID: userID}
	row := pg.q.QueryRow(ctx, pgUpsertAcctSQL, userID, balance)
	if err := row.Scan(&acct.Balance, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	return acct, nil
}

func (pg *PostgresEndpoint) AppendTransaction(ctx context.Context, userID, amount int64, kind TxKind, ts time.Time) (*Transaction, error) {
	tx := &Transaction{
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Timestamp: ts,
	}
	row := pg.q.QueryRow(ctx, pgInsertTxnSQL, userID, string(kind), amount, ts)
	if err := row.Scan(&tx.ID); err != nil {
		return nil, err
	}
	return tx, nil
}

func (pg *PostgresEndpoint) GetTransactions(ctx context.Context, userID int64) ([]Transaction, error) {
	rows, err := pg.q.Query(ctx, pgSelectTxnsSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		var (
			tx   = Transaction{UserID: userID}
			kind string
		)
		if err = rows.Scan(&tx.ID, &kind, &tx.Amount, &tx.Timestamp); err != nil {
			return nil, err
		}
		tx.Kind = TxKind(kind)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// WithTx runs fn against a connection inside a READ COMMITTED transaction and
// commits only if fn succeeds.
func (pg *PostgresEndpoint) WithTx(ctx context.Context, fn func(Repository) error) error {
	if pg.pool == nil {
		// already bound to a transaction
		return fn(pg)
	}
	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err = fn(&PostgresEndpoint{q: tx, log: pg.log}); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			pg.log.Err(rerr).Msg("transaction rollback fail")
		}
		return err
	}
	return tx.Commit(ctx)
}
