package pointxgo

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

var (
	_ Repository = (*MemoryStore)(nil)
)

// MemoryStore keeps balances and history in process memory. Each call sleeps
// for a random duration in [min, max) before touching the tables, standing in
// for the I/O latency of a real database.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[int64]Account
	txs      []Transaction
	cursor   int64

	minLatency time.Duration
	maxLatency time.Duration
	now        func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithLatency sets the simulated latency range. min == max gives a fixed delay.
func WithLatency(min, max time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if max < min {
			max = min
		}
		m.minLatency = min
		m.maxLatency = max
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		accounts: make(map[int64]Account),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) GetAccount(_ context.Context, userID int64) (*Account, error) {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	if !ok {
		acct = Account{UserID: userID, UpdatedAt: m.now()}
	}
	return &acct, nil
}

func (m *MemoryStore) PutBalance(_ context.Context, userID, balance int64) (*Account, error) {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := Account{UserID: userID, Balance: balance, UpdatedAt: m.now()}
	m.accounts[userID] = acct
	return &acct, nil
}

func (m *MemoryStore) AppendTransaction(_ context.Context, userID, amount int64, kind TxKind, ts time.Time) (*Transaction, error) {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor++
	tx := Transaction{
		ID:        m.cursor,
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Timestamp: ts,
	}
	m.txs = append(m.txs, tx)
	return &tx, nil
}

func (m *MemoryStore) GetTransactions(_ context.Context, userID int64) ([]Transaction, error) {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Transaction{}
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) delay() {
	d := m.minLatency
	if spread := m.maxLatency - m.minLatency; spread > 0 {
		d += rand.N(spread)
	}
	if d > 0 {
		time.Sleep(d)
	}
}
