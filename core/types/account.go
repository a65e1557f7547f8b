package types

import "math/big"

// Account tracks the spendable balances held by a marketplace participant or
// by a module vault. Balances are keyed by normalised currency code and
// denominated in the smallest currency unit.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balances: make(map[string]*big.Int)}
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]*big.Int, len(a.Balances))}
	for currency, amount := range a.Balances {
		if amount == nil {
			clone.Balances[currency] = big.NewInt(0)
			continue
		}
		clone.Balances[currency] = new(big.Int).Set(amount)
	}
	return clone
}

// BalanceOf returns the balance recorded for the supplied currency. A missing
// entry reads as zero; the returned value is a copy.
func (a *Account) BalanceOf(currency string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	amount, ok := a.Balances[currency]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// SetBalance records the balance for the supplied currency, initialising the
// balance map when required.
func (a *Account) SetBalance(currency string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		a.Balances[currency] = big.NewInt(0)
		return
	}
	a.Balances[currency] = new(big.Int).Set(amount)
}
