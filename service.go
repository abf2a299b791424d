package pointxgo

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/arhyth/pointxgo Service

type ChargeReq struct {
	UserID int64 `json:"-"`
	Amount int64 `json:"amount"`
}

type BalanceReq struct {
	UserID int64
}

type HistoryReq struct {
	UserID int64
}

type StatementReq struct {
	UserID int64
}

type Service interface {
	Charge(context.Context, ChargeReq) (*Account, error)
	Debit(context.Context, ChargeReq) (*Account, error)
	Balance(context.Context, BalanceReq) (*Account, error)
	History(context.Context, HistoryReq) ([]Transaction, error)
	Statement(context.Context, io.Writer, StatementReq) error
}

var (
	_ Service = (*serviceImpl)(nil)
)

// NewService returns the point ledger service. Every operation on a user runs
// under that user's lock from KeyLocks, so reads and writes for one user are
// serialized in arrival order while different users proceed in parallel.
func NewService(repo Repository, log *zerolog.Logger) *serviceImpl {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &serviceImpl{
		repo:  repo,
		locks: NewKeyLocks(),
		log:   log,
	}
}

type serviceImpl struct {
	repo  Repository
	locks *KeyLocks
	log   *zerolog.Logger
}

func (s *serviceImpl) Charge(ctx context.Context, req ChargeReq) (*Account, error) {
	return s.mutate(ctx, req, KindCharge, ApplyCharge)
}

func (s *serviceImpl) Debit(ctx context.Context, req ChargeReq) (*Account, error) {
	return s.mutate(ctx, req, KindDebit, ApplyDebit)
}

func (s *serviceImpl) Balance(ctx context.Context, req BalanceReq) (*Account, error) {
	var acct *Account
	err := s.withUser(req.UserID, "balance", func() error {
		var err error
		acct, err = s.repo.GetAccount(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("get account %d: %w", req.UserID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *serviceImpl) History(ctx context.Context, req HistoryReq) ([]Transaction, error) {
	var txs []Transaction
	err := s.withUser(req.UserID, "history", func() error {
		var err error
		txs, err = s.repo.GetTransactions(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("get transactions %d: %w", req.UserID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return txs, nil
}

// Statement renders the account and its full history, read under a single
// lock acquisition so both come from the same state.
func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	var (
		acct *Account
		txs  []Transaction
	)
	err := s.withUser(req.UserID, "statement", func() error {
		var err error
		if acct, err = s.repo.GetAccount(ctx, req.UserID); err != nil {
			return fmt.Errorf("get account %d: %w", req.UserID, err)
		}
		if txs, err = s.repo.GetTransactions(ctx, req.UserID); err != nil {
			return fmt.Errorf("get transactions %d: %w", req.UserID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return RenderStatement(w, acct, txs)
}

func (s *serviceImpl) mutate(ctx context.Context, req ChargeReq, kind TxKind, apply func(int64, int64) (int64, error)) (*Account, error) {
	var acct *Account
	err := s.withUser(req.UserID, string(kind), func() error {
		cur, err := s.repo.GetAccount(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("get account %d: %w", req.UserID, err)
		}
		bal, err := apply(cur.Balance, req.Amount)
		if err != nil {
			s.log.Debug().
				Err(err).
				Int64("user", req.UserID).
				Str("kind", string(kind)).
				Msg("mutation rejected")
			return err
		}
		acct, err = s.write(ctx, req.UserID, bal, req.Amount, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// write persists the new balance and its history record, inside a store
// transaction when the repository supports one.
func (s *serviceImpl) write(ctx context.Context, userID, balance, amount int64, kind TxKind) (*Account, error) {
	var acct *Account
	fn := func(repo Repository) error {
		var err error
		if acct, err = repo.PutBalance(ctx, userID, balance); err != nil {
			return fmt.Errorf("put balance %d: %w", userID, err)
		}
		if _, err = repo.AppendTransaction(ctx, userID, amount, kind, acct.UpdatedAt); err != nil {
			return fmt.Errorf("append %s %d: %w", kind, userID, err)
		}
		return nil
	}
	if txr, ok := s.repo.(TxRepository); ok {
		if err := txr.WithTx(ctx, fn); err != nil {
			return nil, err
		}
		return acct, nil
	}
	if err := fn(s.repo); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *serviceImpl) withUser(userID int64, op string, fn func() error) error {
	s.log.Debug().Int64("user", userID).Str("op", op).Msg("waiting for user lock")
	return s.locks.WithLock(userID, func() error {
		s.log.Debug().Int64("user", userID).Str("op", op).Msg("user lock held")
		return fn()
	})
}
