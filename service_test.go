package pointxgo_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/pointxgo"
	"github.com/arhyth/pointxgo/mocks"
)

func newMemoryService(opts ...pointxgo.MemoryOption) pointxgo.Service {
	log := zerolog.Nop()
	return pointxgo.NewService(pointxgo.NewMemoryStore(opts...), &log)
}

func kinds(txs []pointxgo.Transaction) []pointxgo.TxKind {
	out := make([]pointxgo.TxKind, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Kind)
	}
	return out
}

func TestCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("writes balance and appends a record with the update timestamp", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		log := zerolog.Nop()
		svc := pointxgo.NewService(repo, &log)

		ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		gomock.InOrder(
			repo.EXPECT().
				GetAccount(gomock.Any(), int64(1)).
				Return(&pointxgo.Account{UserID: 1, Balance: 100}, nil),
			repo.EXPECT().
				PutBalance(gomock.Any(), int64(1), int64(150)).
				Return(&pointxgo.Account{UserID: 1, Balance: 150, UpdatedAt: ts}, nil),
			repo.EXPECT().
				AppendTransaction(gomock.Any(), int64(1), int64(50), pointxgo.KindCharge, ts).
				Return(&pointxgo.Transaction{ID: 1, UserID: 1, Kind: pointxgo.KindCharge, Amount: 50, Timestamp: ts}, nil),
		)

		acct, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 50})
		reqrd.Nil(err)
		as.Equal(int64(150), acct.Balance)
		as.Equal(ts, acct.UpdatedAt)
	})

	t.Run("returns OverflowError without touching the store", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc := pointxgo.NewService(repo, nil)

		repo.EXPECT().
			GetAccount(gomock.Any(), int64(1)).
			Return(&pointxgo.Account{UserID: 1, Balance: 999_999}, nil)

		acct, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 2})
		as.ErrorIs(err, pointxgo.ErrOverflow)
		as.Nil(acct)
	})

	t.Run("propagates store failures without appending", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc := pointxgo.NewService(repo, nil)
		dbErr := errors.New("connection reset")

		repo.EXPECT().
			GetAccount(gomock.Any(), int64(1)).
			Return(&pointxgo.Account{UserID: 1}, nil)
		repo.EXPECT().
			PutBalance(gomock.Any(), int64(1), int64(10)).
			Return(nil, dbErr)

		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 10})
		as.ErrorIs(err, dbErr)
		as.False(pointxgo.IsClientError(err))
	})

	t.Run("charges an unseen user from zero", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()

		acct, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 42, Amount: 300})
		reqrd.Nil(err)
		as.Equal(int64(42), acct.UserID)
		as.Equal(int64(300), acct.Balance)

		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 42})
		reqrd.Nil(err)
		reqrd.Len(txs, 1)
		as.Equal(pointxgo.KindCharge, txs[0].Kind)
		as.Equal(int64(300), txs[0].Amount)
		as.Equal(acct.UpdatedAt, txs[0].Timestamp)
	})

	t.Run("rejects a charge past the maximum and keeps state", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()

		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 999_999})
		reqrd.Nil(err)
		_, err = svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 2})
		as.ErrorIs(err, pointxgo.ErrOverflow)

		acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
		reqrd.Nil(err)
		as.Equal(int64(999_999), acct.Balance)
		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 1})
		reqrd.Nil(err)
		as.Len(txs, 1)
	})
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("returns InsufficientBalanceError without touching the store", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc := pointxgo.NewService(repo, nil)

		repo.EXPECT().
			GetAccount(gomock.Any(), int64(1)).
			Return(&pointxgo.Account{UserID: 1, Balance: 10}, nil)

		acct, err := svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 15})
		as.ErrorIs(err, pointxgo.ErrInsufficientBalance)
		as.Nil(acct)
	})

	t.Run("charge then debit of the same amount restores the balance", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()

		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 500})
		reqrd.Nil(err)
		before, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
		reqrd.Nil(err)

		_, err = svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 120})
		reqrd.Nil(err)
		after, err := svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 120})
		reqrd.Nil(err)
		as.Equal(before.Balance, after.Balance)

		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 1})
		reqrd.Nil(err)
		as.Equal([]pointxgo.TxKind{pointxgo.KindCharge, pointxgo.KindCharge, pointxgo.KindDebit}, kinds(txs))
	})

	t.Run("debit of 15 from 10 leaves balance and history unchanged", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()

		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 10})
		reqrd.Nil(err)
		_, err = svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 15})
		ins := &pointxgo.InsufficientBalanceError{}
		reqrd.ErrorAs(err, &ins)
		as.Equal(int64(10), ins.Balance)

		acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
		reqrd.Nil(err)
		as.Equal(int64(10), acct.Balance)
		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 1})
		reqrd.Nil(err)
		as.Len(txs, 1)
	})
}

func TestBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("returns a zero balance for an unseen user", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()

		acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 9})
		reqrd.Nil(err)
		as.Equal(int64(9), acct.UserID)
		as.Zero(acct.Balance)
	})

	t.Run("repeated queries return the same balance", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()
		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 77})
		reqrd.Nil(err)

		first, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
		reqrd.Nil(err)
		second, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
		reqrd.Nil(err)
		as.Equal(first, second)
	})

	t.Run("wraps store failures", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc := pointxgo.NewService(repo, nil)
		dbErr := errors.New("timeout")

		repo.EXPECT().
			GetAccount(gomock.Any(), int64(3)).
			Return(nil, dbErr)

		acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 3})
		as.ErrorIs(err, dbErr)
		as.Nil(acct)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("returns an empty list for an unseen user", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc := pointxgo.NewService(repo, nil)

		repo.EXPECT().
			GetTransactions(gomock.Any(), int64(5)).
			Return(nil, nil)

		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 5})
		reqrd.Nil(err)
		as.NotNil(txs)
		as.Empty(txs)
	})

	t.Run("only lists the requested user's records", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()

		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 10})
		reqrd.Nil(err)
		_, err = svc.Charge(ctx, pointxgo.ChargeReq{UserID: 2, Amount: 20})
		reqrd.Nil(err)
		_, err = svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 5})
		reqrd.Nil(err)

		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 1})
		reqrd.Nil(err)
		reqrd.Len(txs, 2)
		as.Less(txs[0].ID, txs[1].ID)
		for _, tx := range txs {
			as.Equal(int64(1), tx.UserID)
		}
	})
}

func TestStatement(t *testing.T) {
	ctx := context.Background()

	t.Run("renders a PDF of the account", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()
		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 1000})
		reqrd.Nil(err)
		_, err = svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 250})
		reqrd.Nil(err)

		var buf bytes.Buffer
		err = svc.Statement(ctx, &buf, pointxgo.StatementReq{UserID: 1})
		reqrd.Nil(err)
		as.True(bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	})
}

func TestServiceSequences(t *testing.T) {
	ctx := context.Background()

	t.Run("balance always equals the replayed history and stays in bounds", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService()
		rng := rand.New(rand.NewPCG(7, 11))

		var want int64
		for range 400 {
			amount := rng.Int64N(300_000)
			req := pointxgo.ChargeReq{UserID: 1, Amount: amount}
			if rng.IntN(2) == 0 {
				_, err := svc.Charge(ctx, req)
				if want+amount > pointxgo.MaxBalance {
					as.ErrorIs(err, pointxgo.ErrOverflow)
					continue
				}
				reqrd.Nil(err)
				want += amount
			} else {
				_, err := svc.Debit(ctx, req)
				if amount > want {
					as.ErrorIs(err, pointxgo.ErrInsufficientBalance)
					continue
				}
				reqrd.Nil(err)
				want -= amount
			}
		}

		acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
		reqrd.Nil(err)
		as.Equal(want, acct.Balance)
		as.GreaterOrEqual(acct.Balance, int64(0))
		as.LessOrEqual(acct.Balance, pointxgo.MaxBalance)

		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 1})
		reqrd.Nil(err)
		replayed, err := pointxgo.Replay(txs)
		reqrd.Nil(err)
		as.Equal(acct.Balance, replayed)
	})
}

func TestServiceConcurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent charges on one user are all applied", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService(pointxgo.WithLatency(0, 5*time.Millisecond))
		_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 10, Amount: 100})
		reqrd.Nil(err)

		var wg sync.WaitGroup
		wg.Add(5)
		for range 5 {
			go func() {
				defer wg.Done()
				_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 10, Amount: 100})
				as.Nil(err)
			}()
		}
		wg.Wait()

		acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 10})
		reqrd.Nil(err)
		as.Equal(int64(600), acct.Balance)
		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 10})
		reqrd.Nil(err)
		as.Len(txs, 6)
	})

	t.Run("staggered mutations apply in arrival order", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc := newMemoryService(pointxgo.WithLatency(20*time.Millisecond, 20*time.Millisecond))

		ops := []func() error{
			func() error { _, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 1000}); return err },
			func() error { _, err := svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 1000}); return err },
			func() error { _, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 1000}); return err },
			func() error { _, err := svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 1000}); return err },
		}
		var wg sync.WaitGroup
		wg.Add(len(ops))
		for i, op := range ops {
			go func() {
				defer wg.Done()
				time.Sleep(time.Duration(i) * 10 * time.Millisecond)
				as.Nil(op())
			}()
		}
		wg.Wait()

		acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
		reqrd.Nil(err)
		as.Zero(acct.Balance)
		txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 1})
		reqrd.Nil(err)
		as.Equal([]pointxgo.TxKind{
			pointxgo.KindCharge, pointxgo.KindDebit, pointxgo.KindCharge, pointxgo.KindDebit,
		}, kinds(txs))
	})

	t.Run("a balance query between mutations sees only completed ones", func(tt *testing.T) {
		as := assert.New(tt)
		svc := newMemoryService(pointxgo.WithLatency(20*time.Millisecond, 20*time.Millisecond))

		var (
			wg      sync.WaitGroup
			queried int64
		)
		charge := func() {
			_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 100})
			as.Nil(err)
		}
		ops := []func(){
			charge,
			charge,
			func() {
				acct, err := svc.Balance(ctx, pointxgo.BalanceReq{UserID: 1})
				as.Nil(err)
				queried = acct.Balance
			},
			charge,
			charge,
		}
		wg.Add(len(ops))
		for i, op := range ops {
			go func() {
				defer wg.Done()
				time.Sleep(time.Duration(i) * 10 * time.Millisecond)
				op()
			}()
		}
		wg.Wait()

		as.Equal(int64(200), queried)
	})

	t.Run("a history query between mutations sees only completed ones", func(tt *testing.T) {
		as := assert.New(tt)
		svc := newMemoryService(pointxgo.WithLatency(20*time.Millisecond, 20*time.Millisecond))

		var (
			wg   sync.WaitGroup
			seen []pointxgo.Transaction
		)
		charge := func() {
			_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 100})
			as.Nil(err)
		}
		debit := func() {
			_, err := svc.Debit(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 50})
			as.Nil(err)
		}
		ops := []func(){
			charge,
			debit,
			charge,
			func() {
				txs, err := svc.History(ctx, pointxgo.HistoryReq{UserID: 1})
				as.Nil(err)
				seen = txs
			},
			debit,
		}
		wg.Add(len(ops))
		for i, op := range ops {
			go func() {
				defer wg.Done()
				time.Sleep(time.Duration(i) * 10 * time.Millisecond)
				op()
			}()
		}
		wg.Wait()

		as.Equal([]pointxgo.TxKind{pointxgo.KindCharge, pointxgo.KindDebit, pointxgo.KindCharge}, kinds(seen))
	})

	t.Run("statements never observe a half-written mutation", func(tt *testing.T) {
		as := assert.New(tt)
		svc := newMemoryService(pointxgo.WithLatency(0, 2*time.Millisecond))

		var wg sync.WaitGroup
		wg.Add(40)
		for range 20 {
			go func() {
				defer wg.Done()
				_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: 1, Amount: 10})
				as.Nil(err)
			}()
			go func() {
				defer wg.Done()
				var buf bytes.Buffer
				as.Nil(svc.Statement(ctx, &buf, pointxgo.StatementReq{UserID: 1}))
			}()
		}
		wg.Wait()
	})

	t.Run("different users proceed in parallel", func(tt *testing.T) {
		as := assert.New(tt)
		svc := newMemoryService(pointxgo.WithLatency(30*time.Millisecond, 30*time.Millisecond))

		const users = 8
		start := time.Now()
		var wg sync.WaitGroup
		wg.Add(users)
		for u := range users {
			go func() {
				defer wg.Done()
				_, err := svc.Charge(ctx, pointxgo.ChargeReq{UserID: int64(u), Amount: 1})
				as.Nil(err)
			}()
		}
		wg.Wait()

		// a serialized run would take users * 3 store calls * 30ms
		as.Less(time.Since(start), 400*time.Millisecond)
	})
}
