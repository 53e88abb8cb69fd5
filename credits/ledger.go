// Package credits is the balance that gates paid actions.
package credits

import (
	"sync"

	"github.com/OmGuptaIND/screenrec/metrics"
)

// Ledger holds a credit balance. It is safe for concurrent use.
type Ledger struct {
	mtx     sync.Mutex
	balance int64
}

// New creates a ledger with the given opening balance.
func New(initial int64) *Ledger {
	if initial < 0 {
		initial = 0
	}

	metrics.CreditsBalance.Set(float64(initial))

	return &Ledger{balance: initial}
}

// Spend deducts amount and returns true, or returns false and leaves the balance untouched
// when it is insufficient.
func (l *Ledger) Spend(amount int64) bool {
	if amount < 0 {
		return false
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if amount > l.balance {
		metrics.CreditsRejectedTotal.Inc()
		return false
	}

	l.balance -= amount

	metrics.CreditsSpentTotal.Add(float64(amount))
	metrics.CreditsBalance.Set(float64(l.balance))

	return true
}

// Add credits the balance. Non-positive amounts are ignored.
func (l *Ledger) Add(amount int64) {
	if amount <= 0 {
		return
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	l.balance += amount
	metrics.CreditsBalance.Set(float64(l.balance))
}

func (l *Ledger) Balance() int64 {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.balance
}
