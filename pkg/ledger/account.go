package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/limitlock/pkg/asset"
)

// Account tracks the balances held by one address: the native currency
// balance plus per-class token holdings. Amounts are u256.
type Account struct {
	Address common.Address          `json:"address"`
	Balance *uint256.Int            `json:"balance"`          // native units
	Tokens  map[string]*uint256.Int `json:"tokens,omitempty"` // class key → amount
}

// NewAccount creates an account with zero balances.
func NewAccount(addr common.Address) *Account {
	return &Account{
		Address: addr,
		Balance: uint256.NewInt(0),
		Tokens:  make(map[string]*uint256.Int),
	}
}

// classKey is the map key for a token class.
// Format: "{tokenID}#{nonce}", e.g. "SFT-abcdef#1".
func classKey(c asset.Class) string {
	return fmt.Sprintf("%s#%d", c.TokenID, c.Nonce)
}

// BalanceOf returns the held amount of the given class. A class the account
// never held reads as zero; holding zero and never having held are
// indistinguishable, which is what balance assertions rely on.
func (a *Account) BalanceOf(c asset.Class) *uint256.Int {
	if c.IsNative() {
		return new(uint256.Int).Set(a.Balance)
	}
	if amt, ok := a.Tokens[classKey(c)]; ok {
		return new(uint256.Int).Set(amt)
	}
	return uint256.NewInt(0)
}

// Credit adds the payment to the account.
func (a *Account) Credit(p asset.Payment) {
	if p.IsNative() {
		a.Balance = new(uint256.Int).Add(a.Balance, p.Amount)
		return
	}
	key := classKey(p.Class)
	cur, ok := a.Tokens[key]
	if !ok {
		cur = uint256.NewInt(0)
	}
	a.Tokens[key] = new(uint256.Int).Add(cur, p.Amount)
}

// Debit removes the payment from the account, failing if the held amount
// is insufficient. No partial debit happens on failure.
func (a *Account) Debit(p asset.Payment) error {
	held := a.BalanceOf(p.Class)
	if held.Lt(p.Amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s of %s",
			ErrInsufficientFunds, a.Address.Hex(), held.Dec(), p.Amount.Dec(), p.Class)
	}
	if p.IsNative() {
		a.Balance = new(uint256.Int).Sub(a.Balance, p.Amount)
		return nil
	}
	a.Tokens[classKey(p.Class)] = new(uint256.Int).Sub(held, p.Amount)
	return nil
}

// Clone returns a deep copy, used for transaction snapshots.
func (a *Account) Clone() *Account {
	c := &Account{
		Address: a.Address,
		Balance: new(uint256.Int).Set(a.Balance),
		Tokens:  make(map[string]*uint256.Int, len(a.Tokens)),
	}
	for k, v := range a.Tokens {
		c.Tokens[k] = new(uint256.Int).Set(v)
	}
	return c
}

// Holdings returns a copy of the token holdings map.
func (a *Account) Holdings() map[string]*uint256.Int {
	out := make(map[string]*uint256.Int, len(a.Tokens))
	for k, v := range a.Tokens {
		out[k] = new(uint256.Int).Set(v)
	}
	return out
}
