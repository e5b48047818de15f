// Package ledger implements the host side of contract execution: accounts
// with native and token balances, serialized transactions with whole-call
// rollback, the transfer primitive handed to contracts, and the synchronous
// cross-contract invoker. One Ledger is one simulated chain; every contract
// instance registered on it shares its transaction boundary.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitlock/pkg/asset"
)

var (
	ErrUnknownContract   = errors.New("unknown contract")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEmptyTransfer     = errors.New("empty transfer")
)

// Call carries one entry-point invocation into a contract.
type Call struct {
	Caller  common.Address  // account or contract issuing the call
	Func    string          // entry-point name, e.g. "create_order"
	Args    json.RawMessage // JSON-encoded argument struct
	Payment *asset.Payment  // attached payment, nil when none
}

// Contract is the interface a registered contract exposes to the ledger.
// State marshalling is used both for rollback snapshots and persistence;
// a contract's state must round-trip through it.
type Contract interface {
	Invoke(call *Call) ([]byte, error)
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// Host is the set of ledger services a contract sees during execution.
// Send and CallContract always act on behalf of the contract's own address.
type Host interface {
	SelfAddress() common.Address

	// Send moves a payment from the contract to another address.
	// Empty transfers are rejected; callers skip zero amounts.
	Send(to common.Address, p asset.Payment) error

	// CallContract synchronously invokes an entry point on another contract
	// with an optional attached payment, blocking until that execution
	// completes or fails. A failure leaves the whole outer transaction to be
	// rolled back by the ledger; the callee's effects never outlive an error.
	CallContract(to common.Address, fn string, args any, payment *asset.Payment) ([]byte, error)
}

// Ledger holds all chain state and serializes transactions with one mutex,
// mirroring a chain that executes one transaction at a time.
type Ledger struct {
	mu          sync.Mutex
	accounts    map[common.Address]*Account
	contracts   map[common.Address]Contract
	deployNonce uint64
	store       *Store // nil for in-memory ledgers
	log         *zap.SugaredLogger
}

// New creates an in-memory ledger without persistence. Used by tests and
// available for ephemeral devnets.
func New(log *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{
		accounts:  make(map[common.Address]*Account),
		contracts: make(map[common.Address]Contract),
		log:       log,
	}
}

// NewWithStore creates a ledger backed by a Pebble store at dbPath and loads
// all persisted accounts. Contract state is restored per instance as
// contracts are deployed back onto their deterministic addresses.
func NewWithStore(dbPath string, log *zap.SugaredLogger) (*Ledger, error) {
	l := New(log)
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	l.store = store

	accounts, err := store.LoadAccounts()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	for _, acc := range accounts {
		l.accounts[acc.Address] = acc
	}
	if len(accounts) > 0 {
		l.log.Infow("ledger_state_loaded", "accounts", len(accounts))
	}
	return l, nil
}

// Close closes the underlying store, if any.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// Deploy registers a new contract instance at a deterministic address derived
// from the deployer and a per-ledger deploy nonce. If the store holds state
// for that address (a restart), the instance is rehydrated from it.
func (l *Ledger) Deploy(deployer common.Address, build func(Host) Contract) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	addr := crypto.CreateAddress(deployer, l.deployNonce)
	l.deployNonce++

	ct := build(&host{l: l, self: addr})
	if l.store != nil {
		blob, err := l.store.LoadContractState(addr)
		if err != nil {
			return common.Address{}, fmt.Errorf("load contract state %s: %w", addr.Hex(), err)
		}
		if blob != nil {
			if err := ct.UnmarshalState(blob); err != nil {
				return common.Address{}, fmt.Errorf("restore contract %s: %w", addr.Hex(), err)
			}
		}
	}
	l.contracts[addr] = ct
	l.log.Infow("contract_deployed", "address", addr.Hex(), "deployer", deployer.Hex())
	return addr, nil
}

// Execute runs one entry-point call as one transaction: the attached payment
// moves from caller to contract, the contract runs, and either every effect
// commits or none does. On error all accounts and every contract's state are
// restored to the pre-transaction snapshot.
func (l *Ledger) Execute(caller, callee common.Address, fn string, args any, payment *asset.Payment) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ret, err := l.call(caller, callee, fn, raw, payment)
	if err != nil {
		l.restore(snap)
		l.log.Debugw("tx_reverted", "func", fn, "contract", callee.Hex(), "err", err)
		return nil, err
	}

	if l.store != nil {
		if err := l.commit(); err != nil {
			// A failed durable write is fatal for state consistency;
			// revert the in-memory state so it matches disk.
			l.restore(snap)
			return nil, fmt.Errorf("commit: %w", err)
		}
	}
	return ret, nil
}

// call performs the attached transfer and dispatches into the contract.
// It runs inside an Execute transaction: errors propagate up and the outer
// snapshot undoes everything, including effects of nested calls.
func (l *Ledger) call(caller, callee common.Address, fn string, args json.RawMessage, payment *asset.Payment) ([]byte, error) {
	ct, ok := l.contracts[callee]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, callee.Hex())
	}
	if payment != nil {
		if err := payment.Validate(); err != nil {
			return nil, err
		}
		if err := l.transfer(caller, callee, *payment); err != nil {
			return nil, err
		}
	}
	return ct.Invoke(&Call{Caller: caller, Func: fn, Args: args, Payment: payment})
}

// transfer moves a payment between two accounts. Zero-amount transfers are
// rejected here so settlement code has to skip them explicitly.
func (l *Ledger) transfer(from, to common.Address, p asset.Payment) error {
	if p.Amount == nil || p.Amount.IsZero() {
		return fmt.Errorf("%w: %s -> %s of %s", ErrEmptyTransfer, from.Hex(), to.Hex(), p.Class)
	}
	if err := l.account(from).Debit(p); err != nil {
		return err
	}
	l.account(to).Credit(p)
	return nil
}

// account returns the account for addr, creating a zero-balance one if it
// does not exist yet.
func (l *Ledger) account(addr common.Address) *Account {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = NewAccount(addr)
		l.accounts[addr] = acc
	}
	return acc
}

// Mint credits a payment out of thin air. Genesis funding and tests only.
func (l *Ledger) Mint(addr common.Address, p asset.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(addr).Credit(p)
	if l.store != nil {
		return l.commit()
	}
	return nil
}

// BalanceOf returns addr's held amount of the given class.
func (l *Ledger) BalanceOf(addr common.Address, c asset.Class) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return uint256.NewInt(0)
	}
	return acc.BalanceOf(c)
}

// NativeBalance returns addr's native currency balance.
func (l *Ledger) NativeBalance(addr common.Address) *uint256.Int {
	return l.BalanceOf(addr, asset.NativeClass())
}

// AccountInfo returns a copy of addr's balances for read-only surfaces.
func (l *Ledger) AccountInfo(addr common.Address) (*uint256.Int, map[string]*uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return uint256.NewInt(0), map[string]*uint256.Int{}
	}
	return new(uint256.Int).Set(acc.Balance), acc.Holdings()
}

// View runs fn under the ledger's transaction lock. API read handlers use it
// to observe contract state without racing executing transactions.
func (l *Ledger) View(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// ledgerSnapshot captures all mutable state before a transaction.
type ledgerSnapshot struct {
	accounts  map[common.Address]*Account
	contracts map[common.Address][]byte
}

func (l *Ledger) snapshot() (*ledgerSnapshot, error) {
	snap := &ledgerSnapshot{
		accounts:  make(map[common.Address]*Account, len(l.accounts)),
		contracts: make(map[common.Address][]byte, len(l.contracts)),
	}
	for addr, acc := range l.accounts {
		snap.accounts[addr] = acc.Clone()
	}
	for addr, ct := range l.contracts {
		blob, err := ct.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("marshal contract %s: %w", addr.Hex(), err)
		}
		snap.contracts[addr] = blob
	}
	return snap, nil
}

func (l *Ledger) restore(snap *ledgerSnapshot) {
	l.accounts = snap.accounts
	for addr, blob := range snap.contracts {
		if err := l.contracts[addr].UnmarshalState(blob); err != nil {
			// State blobs came from MarshalState moments ago; a failure
			// here means the contract cannot round-trip its own state.
			panic(fmt.Sprintf("ledger: restore contract %s: %v", addr.Hex(), err))
		}
	}
}

// commit writes the full account set and every contract's state in one
// atomic batch. The state is small enough that a full write per transaction
// beats tracking touched records.
func (l *Ledger) commit() error {
	batch := l.store.NewBatch()
	defer batch.Close()
	for _, acc := range l.accounts {
		if err := batch.SetAccount(acc); err != nil {
			return err
		}
	}
	for addr, ct := range l.contracts {
		blob, err := ct.MarshalState()
		if err != nil {
			return err
		}
		if err := batch.SetContractState(addr, blob); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// host binds a contract address to its ledger, implementing Host.
type host struct {
	l    *Ledger
	self common.Address
}

func (h *host) SelfAddress() common.Address { return h.self }

func (h *host) Send(to common.Address, p asset.Payment) error {
	return h.l.transfer(h.self, to, p)
}

func (h *host) CallContract(to common.Address, fn string, args any, payment *asset.Payment) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return h.l.call(h.self, to, fn, raw, payment)
}
