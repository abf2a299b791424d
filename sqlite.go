package pointxgo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	_ TxRepository = (*SQLiteStore)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_points (
	user_id    INTEGER PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0 AND balance <= 1000000),
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS point_transactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL,
	kind       TEXT NOT NULL CHECK (kind IN ('CHARGE', 'DEBIT')),
	amount     INTEGER NOT NULL CHECK (amount >= 0),
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_point_transactions_user
	ON point_transactions (user_id, id);
`

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is a file-backed Repository for single-node deployments. Use
// ":memory:" for a throwaway database.
type SQLiteStore struct {
	db *sql.DB
	q  sqlQuerier
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: sqlite serializes writers anyway, and ":memory:" is
	// private to its connection
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db, q: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	var (
		acct = &Account{UserID: userID}
		ts   string
	)
	row := s.q.QueryRowContext(ctx, `SELECT balance, updated_at FROM user_points WHERE user_id = ?`, userID)
	if err := row.Scan(&acct.Balance, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			acct.UpdatedAt = time.Now()
			return acct, nil
		}
		return nil, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	acct.UpdatedAt = t
	return acct, nil
}

func (s *SQLiteStore) PutBalance(ctx context.Context, userID, balance int64) (*Account, error) {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO user_points (user_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = excluded.balance, updated_at = excluded.updated_at`,
		userID, balance, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &Account{UserID: userID, Balance: balance, UpdatedAt: now}, nil
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, userID, amount int64, kind TxKind, ts time.Time) (*Transaction, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO point_transactions (user_id, kind, amount, created_at)
		VALUES (?, ?, ?, ?)`,
		userID, string(kind), amount, ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Timestamp: ts,
	}, nil
}

func (s *SQLiteStore) GetTransactions(ctx context.Context, userID int64) ([]Transaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, kind, amount, created_at
		FROM point_transactions
		WHERE user_id = ?
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		var (
			tx       = Transaction{UserID: userID}
			kind, ts string
		)
		if err = rows.Scan(&tx.ID, &kind, &tx.Amount, &ts); err != nil {
			return nil, err
		}
		if tx.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		tx.Kind = TxKind(kind)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Repository) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err = fn(&SQLiteStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
