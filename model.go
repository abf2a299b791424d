package pointxgo

import "time"

// MaxBalance is the upper bound of any account balance.
const MaxBalance int64 = 1_000_000

type TxKind string

const (
	KindCharge TxKind = "CHARGE"
	KindDebit  TxKind = "DEBIT"
)

type Account struct {
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one immutable entry of a user's point history. Amount is
// always positive; Kind carries the sign.
type Transaction struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      TxKind    `json:"kind"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}
