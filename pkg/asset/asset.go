// Package asset defines the value types for transferable assets: the chain's
// native currency and fungible/semi-fungible tokens identified by a
// (token identifier, nonce) pair. A Class names an asset kind without an
// amount; a Payment is a Class plus a positive u256 amount.
package asset

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrInvalidAsset is returned for a malformed class: a native class
	// carrying a token identifier, or a token class without one.
	ErrInvalidAsset = errors.New("invalid asset class")

	// ErrZeroAmount is returned when a payment carries no amount.
	ErrZeroAmount = errors.New("zero amount")
)

// Kind discriminates native currency from token assets.
type Kind uint8

const (
	Native Kind = iota
	Token
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Token:
		return "token"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind as "native" or "token" for JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "native" or "token".
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "native":
		*k = Native
	case "token":
		*k = Token
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAsset, string(b))
	}
	return nil
}

// Class identifies an asset kind without an amount.
// For native currency TokenID is empty and Nonce is zero.
// For tokens, Nonce 0 means fungible and Nonce > 0 names a semi-fungible unit.
type Class struct {
	Kind    Kind   `json:"kind"`
	TokenID string `json:"tokenId,omitempty"`
	Nonce   uint64 `json:"nonce,omitempty"`
}

// NativeClass returns the class of the chain's native currency.
func NativeClass() Class {
	return Class{Kind: Native}
}

// TokenClass returns the class of a token identified by id and nonce.
func TokenClass(id string, nonce uint64) Class {
	return Class{Kind: Token, TokenID: id, Nonce: nonce}
}

// IsNative reports whether the class is the native currency.
func (c Class) IsNative() bool {
	return c.Kind == Native
}

// Equal reports kind-equality: Kind, TokenID and Nonce must all match.
// Amounts are not part of a class.
func (c Class) Equal(o Class) bool {
	return c.Kind == o.Kind && c.TokenID == o.TokenID && c.Nonce == o.Nonce
}

// Validate rejects malformed classes at the contract boundary.
func (c Class) Validate() error {
	switch c.Kind {
	case Native:
		if c.TokenID != "" || c.Nonce != 0 {
			return fmt.Errorf("%w: native class with token identity %s#%d", ErrInvalidAsset, c.TokenID, c.Nonce)
		}
	case Token:
		if c.TokenID == "" {
			return fmt.Errorf("%w: token class without identifier", ErrInvalidAsset)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidAsset, c.Kind)
	}
	return nil
}

func (c Class) String() string {
	if c.IsNative() {
		return "native"
	}
	return fmt.Sprintf("%s#%d", c.TokenID, c.Nonce)
}

// Payment is a concrete amount of an asset class.
type Payment struct {
	Class
	Amount *uint256.Int `json:"amount"`
}

// NewPayment builds a payment of amount units of class c.
func NewPayment(c Class, amount *uint256.Int) Payment {
	return Payment{Class: c, Amount: amount}
}

// NativePayment builds a payment in the native currency.
func NativePayment(amount *uint256.Int) Payment {
	return Payment{Class: NativeClass(), Amount: amount}
}

// TokenPayment builds a token payment.
func TokenPayment(id string, nonce uint64, amount *uint256.Int) Payment {
	return Payment{Class: TokenClass(id, nonce), Amount: amount}
}

// Validate checks the class and requires a positive amount. Every payment
// participating in escrow or settlement must pass this check.
func (p Payment) Validate() error {
	if err := p.Class.Validate(); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return fmt.Errorf("%w: payment of %s", ErrZeroAmount, p.Class)
	}
	return nil
}

func (p Payment) String() string {
	amt := "0"
	if p.Amount != nil {
		amt = p.Amount.Dec()
	}
	return fmt.Sprintf("%s %s", amt, p.Class)
}
