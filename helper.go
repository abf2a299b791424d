package pointxgo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

type LocalHelper struct {
	Conn *pgx.Conn
	Dir  string
}

// NewLocalHelper connects to the configured Postgres database. dir holds
// init_db.sql and teardown_db.sql.
func NewLocalHelper(cfg *Config, dir string) (*LocalHelper, error) {
	conn, err := pgx.Connect(context.Background(), cfg.Database.ConnectionString)
	if err != nil {
		return nil, err
	}
	return &LocalHelper{
		Conn: conn,
		Dir:  dir,
	}, nil
}

// InitDB creates the schema and returns a func that drops it again.
func (lh *LocalHelper) InitDB() (func(), error) {
	if err := lh.exec("init_db.sql"); err != nil {
		return nil, err
	}
	return lh.teardownDB(), nil
}

func (lh *LocalHelper) Close() {
	lh.Conn.Close(context.Background())
}

func (lh *LocalHelper) exec(name string) error {
	bits, err := os.ReadFile(filepath.Join(lh.Dir, name))
	if err != nil {
		return err
	}
	if _, err = lh.Conn.Exec(context.Background(), string(bits)); err != nil {
		return fmt.Errorf("exec %s: %w", name, err)
	}
	return nil
}

func (lh *LocalHelper) teardownDB() func() {
	return func() {
		if err := lh.exec("teardown_db.sql"); err != nil {
			fmt.Fprintf(os.Stderr, "DB cleanup: %s", err.Error())
		}
	}
}

// SeedBalances moves every user in seed to its target balance through svc,
// charging or debiting the difference so the history replays to the target.
// Running it twice with the same seed is a no-op the second time. Users are
// seeded concurrently.
func SeedBalances(ctx context.Context, svc Service, seed map[int64]int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for userID, target := range seed {
		g.Go(func() error {
			acct, err := svc.Balance(ctx, BalanceReq{UserID: userID})
			if err != nil {
				return err
			}
			req := ChargeReq{UserID: userID, Amount: target - acct.Balance}
			switch {
			case req.Amount > 0:
				_, err = svc.Charge(ctx, req)
			case req.Amount < 0:
				req.Amount = -req.Amount
				_, err = svc.Debit(ctx, req)
			}
			if err != nil {
				return fmt.Errorf("seed user %d: %w", userID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
