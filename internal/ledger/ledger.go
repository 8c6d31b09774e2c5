// Package ledger tracks a project's budget cap against cumulative spend.
// It does no I/O; callers persist Cap and Spend.
package ledger

import (
	"errors"
	"math"
)

var ErrNegativeAmount = errors.New("amount must not be negative")

// epsilon absorbs float drift when comparing a stored total to a recomputed sum.
const epsilon = 1e-9

type Ledger struct {
	cap   float64
	spend float64
}

// New builds a ledger from persisted figures. A cap of zero means unlimited.
func New(cap, spend float64) (*Ledger, error) {
	if cap < 0 || spend < 0 {
		return nil, ErrNegativeAmount
	}
	return &Ledger{cap: cap, spend: spend}, nil
}

func (l *Ledger) Cap() float64   { return l.cap }
func (l *Ledger) Spend() float64 { return l.spend }

func (l *Ledger) SetCap(capUSD float64) error {
	if capUSD < 0 {
		return ErrNegativeAmount
	}
	l.cap = capUSD
	return nil
}

func (l *Ledger) AddSpend(amountUSD float64) error {
	if amountUSD < 0 {
		return ErrNegativeAmount
	}
	l.spend += amountUSD
	return nil
}

// WouldExceed reports whether spending additional would pass the cap.
func (l *Ledger) WouldExceed(additionalUSD float64) bool {
	if l.cap <= 0 {
		return false
	}
	return l.spend+additionalUSD > l.cap
}

// Remaining is max(0, cap-spend). It is zero for an unlimited ledger too;
// check Unlimited first.
func (l *Ledger) Remaining() float64 {
	return math.Max(0, l.cap-l.spend)
}

// Unlimited is true when no cap applies.
func (l *Ledger) Unlimited() bool { return l.cap <= 0 }

// Reconcile raises spend to authoritative when it is greater. Spend never
// goes down. It reports whether the figure changed.
func (l *Ledger) Reconcile(authoritative float64) bool {
	if authoritative > l.spend+epsilon {
		l.spend = authoritative
		return true
	}
	return false
}
