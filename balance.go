package pointxgo

import (
	"fmt"
	"strconv"
)

// ApplyCharge returns balance+amount, or an error if amount is negative or
// the result would exceed MaxBalance.
func ApplyCharge(balance, amount int64) (int64, error) {
	if amount < 0 {
		return balance, negativeAmount(amount)
	}
	// compare against the headroom so the sum never overflows int64
	if amount > MaxBalance-balance {
		return balance, &OverflowError{Balance: balance, Amount: amount}
	}
	return balance + amount, nil
}

// ApplyDebit returns balance-amount, or an error if amount is negative or
// larger than balance.
func ApplyDebit(balance, amount int64) (int64, error) {
	if amount < 0 {
		return balance, negativeAmount(amount)
	}
	if amount > balance {
		return balance, &InsufficientBalanceError{Balance: balance, Amount: amount}
	}
	return balance - amount, nil
}

// Replay recomputes a balance from zero by applying txs in order. It fails
// on the first record that would break the balance bounds.
func Replay(txs []Transaction) (int64, error) {
	return replayEach(txs, nil)
}

// replayEach is Replay with a callback receiving the balance after each record.
func replayEach(txs []Transaction, fn func(tx Transaction, bal int64)) (int64, error) {
	var (
		bal int64
		err error
	)
	for _, tx := range txs {
		switch tx.Kind {
		case KindCharge:
			bal, err = ApplyCharge(bal, tx.Amount)
		case KindDebit:
			bal, err = ApplyDebit(bal, tx.Amount)
		default:
			err = fmt.Errorf("unknown kind %q", tx.Kind)
		}
		if err != nil {
			return bal, fmt.Errorf("replay transaction %d: %w", tx.ID, err)
		}
		if fn != nil {
			fn(tx, bal)
		}
	}
	return bal, nil
}

func negativeAmount(amount int64) error {
	return &InvalidAmountError{
		Amount: strconv.FormatInt(amount, 10),
		Reason: "must not be negative",
	}
}
