// Package escrow implements a peer-to-peer limit-order escrow contract:
// CreateOrder locks an attached asset against requested counter-terms,
// FillOrder settles both legs atomically against an exact matching payment,
// and FillOrderWithOther lets a third party settle one local order against a
// complementary order on another instance, keeping the spread.
//
// The contract owns no concurrency of its own: the host ledger serializes
// transactions and rolls every effect back on error, so the engine's only
// discipline is to validate fully before any transfer and to mutate the
// order store last.
package escrow

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitlock/pkg/asset"
	"github.com/uhyunpark/limitlock/pkg/ledger"
)

// Entry-point names of the contract's callable surface.
const (
	FuncCreateOrder        = "create_order"
	FuncFillOrder          = "fill_order"
	FuncFillOrderWithOther = "fill_order_with_other"
)

// CreateOrderArgs asks the contract to escrow the attached payment against
// the requested counter-asset terms.
type CreateOrderArgs struct {
	RequestedClass  asset.Class  `json:"requestedClass"`
	RequestedAmount *uint256.Int `json:"requestedAmount"`
}

// CreateOrderResult returns the new order id.
type CreateOrderResult struct {
	OrderID uint64 `json:"orderId"`
}

// FillOrderArgs names the order the attached payment settles.
type FillOrderArgs struct {
	OrderID uint64 `json:"orderId"`
}

// FillOrderResult reports the escrowed asset released to the filler. A
// contract filling on behalf of an arbitrage call reads it to learn what
// landed in its custody.
type FillOrderResult struct {
	Released asset.Payment `json:"released"`
}

// FillOrderWithOtherArgs settles LocalOrderID using its own escrow as the
// payment into OtherOrderID on OtherContract. ExpectedPayment pins the other
// order's requested terms as observed by the caller; if the live terms have
// drifted, the nested fill rejects the payment and the whole call aborts.
type FillOrderWithOtherArgs struct {
	LocalOrderID    uint64         `json:"localOrderId"`
	OtherContract   common.Address `json:"otherContract"`
	OtherOrderID    uint64         `json:"otherOrderId"`
	ExpectedPayment asset.Payment  `json:"expectedPayment"`
}

// Contract is one deployed escrow instance. It physically holds every
// escrowed asset on its own ledger account; the order store is the ledger of
// claims against those holdings.
type Contract struct {
	host   ledger.Host
	log    *zap.SugaredLogger
	orders *OrderStore
}

// New builds a contract instance bound to its host.
func New(h ledger.Host, log *zap.SugaredLogger) *Contract {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Contract{
		host:   h,
		log:    log,
		orders: NewOrderStore(),
	}
}

// Invoke dispatches an entry-point call by function name.
func (c *Contract) Invoke(call *ledger.Call) ([]byte, error) {
	switch call.Func {
	case FuncCreateOrder:
		var args CreateOrderArgs
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", call.Func, err)
		}
		res, err := c.createOrder(call, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)

	case FuncFillOrder:
		var args FillOrderArgs
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", call.Func, err)
		}
		res, err := c.fillOrder(call, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)

	case FuncFillOrderWithOther:
		var args FillOrderWithOtherArgs
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", call.Func, err)
		}
		if err := c.fillOrderWithOther(call, args); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, call.Func)
	}
}

// createOrder escrows the attached payment and records the order. The host
// already moved the payment into the contract's custody as part of call
// execution; the engine only validates and records.
func (c *Contract) createOrder(call *ledger.Call, args CreateOrderArgs) (CreateOrderResult, error) {
	if call.Payment == nil {
		return CreateOrderResult{}, ErrNoPaymentAttached
	}
	if err := args.RequestedClass.Validate(); err != nil {
		return CreateOrderResult{}, err
	}
	if args.RequestedAmount == nil || args.RequestedAmount.IsZero() {
		return CreateOrderResult{}, fmt.Errorf("%w: requested amount", asset.ErrZeroAmount)
	}

	id := c.orders.Insert(&Order{
		Maker:           call.Caller,
		Escrowed:        *call.Payment,
		RequestedClass:  args.RequestedClass,
		RequestedAmount: args.RequestedAmount,
	})
	c.log.Infow("order_created",
		"contract", c.host.SelfAddress().Hex(),
		"order_id", id,
		"maker", call.Caller.Hex(),
		"escrowed", call.Payment.String(),
		"requested", asset.NewPayment(args.RequestedClass, args.RequestedAmount).String(),
	)
	return CreateOrderResult{OrderID: id}, nil
}

// fillOrder settles an order against an exactly matching attached payment:
// the payment goes to the maker in full, the escrowed asset goes to the
// caller in full, and the order is removed. Exact amount only; overpayment
// is a mismatch like underpayment.
func (c *Contract) fillOrder(call *ledger.Call, args FillOrderArgs) (FillOrderResult, error) {
	order, ok := c.orders.Get(args.OrderID)
	if !ok {
		// A filled order is gone; a second fill lands here too.
		return FillOrderResult{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, args.OrderID)
	}
	if call.Payment == nil {
		return FillOrderResult{}, ErrNoPaymentAttached
	}
	if !call.Payment.Class.Equal(order.RequestedClass) {
		return FillOrderResult{}, fmt.Errorf("%w: attached %s, requested %s",
			ErrAssetKindMismatch, call.Payment.Class, order.RequestedClass)
	}
	if call.Payment.Amount.Cmp(order.RequestedAmount) != 0 {
		return FillOrderResult{}, fmt.Errorf("%w: attached %s, requested %s",
			ErrAmountMismatch, call.Payment.Amount.Dec(), order.RequestedAmount.Dec())
	}

	// Validation done; issue both legs, then remove the order last.
	if err := c.host.Send(order.Maker, *call.Payment); err != nil {
		return FillOrderResult{}, err
	}
	if err := c.host.Send(call.Caller, order.Escrowed); err != nil {
		return FillOrderResult{}, err
	}
	c.orders.Remove(order.ID)

	c.log.Infow("order_filled",
		"contract", c.host.SelfAddress().Hex(),
		"order_id", order.ID,
		"maker", order.Maker.Hex(),
		"filler", call.Caller.Hex(),
		"released", order.Escrowed.String(),
	)
	return FillOrderResult{Released: order.Escrowed}, nil
}

// fillOrderWithOther settles a local order by funding the fill of a
// complementary order, possibly on another instance, out of the local
// order's escrow. The asset obtained from that fill goes to the local maker
// in full; any escrow left over after funding the other leg is the caller's
// profit. The caller attaches no payment of their own.
func (c *Contract) fillOrderWithOther(call *ledger.Call, args FillOrderWithOtherArgs) error {
	local, ok := c.orders.Get(args.LocalOrderID)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, args.LocalOrderID)
	}
	if err := args.ExpectedPayment.Validate(); err != nil {
		return err
	}
	// The local escrow is the funding source for the other leg: its kind
	// must be what the other order asks for, and it must cover the ask in
	// full. A shortfall is a hard failure, not a partial fill.
	if !local.Escrowed.Class.Equal(args.ExpectedPayment.Class) {
		return fmt.Errorf("%w: escrow holds %s, other leg needs %s",
			ErrAssetKindMismatch, local.Escrowed.Class, args.ExpectedPayment.Class)
	}
	if local.Escrowed.Amount.Lt(args.ExpectedPayment.Amount) {
		return fmt.Errorf("%w: escrowed %s, other leg needs %s",
			ErrInsufficientEscrow, local.Escrowed.Amount.Dec(), args.ExpectedPayment.Amount.Dec())
	}

	// Fill the other order, attaching exactly the pinned payment drawn from
	// the local escrow. The call is synchronous: nothing below runs until
	// the nested fill has fully completed or failed. A drift between the
	// pinned terms and the other order's live terms rejects the payment
	// inside that fill; the error propagates and aborts everything here.
	fillArgs := FillOrderArgs{OrderID: args.OtherOrderID}
	funding := args.ExpectedPayment

	var released asset.Payment
	if args.OtherContract == c.host.SelfAddress() {
		// Same instance: a direct local fill, no cross-contract hop.
		// The funding payment stays within the contract's own custody.
		res, err := c.fillOrder(&ledger.Call{
			Caller:  c.host.SelfAddress(),
			Func:    FuncFillOrder,
			Payment: &funding,
		}, fillArgs)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNestedCallFailed, err)
		}
		released = res.Released
	} else {
		ret, err := c.host.CallContract(args.OtherContract, FuncFillOrder, fillArgs, &funding)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNestedCallFailed, err)
		}
		var res FillOrderResult
		if err := json.Unmarshal(ret, &res); err != nil {
			return fmt.Errorf("%w: decode fill result: %w", ErrNestedCallFailed, err)
		}
		released = res.Released
	}

	// The nested fill can consume the local order itself when the other leg
	// aliases it on the same instance. Its escrow has then already been paid
	// out once; paying the return leg and leftover on top would come out of
	// other live orders' custody.
	if _, ok := c.orders.Get(local.ID); !ok {
		return fmt.Errorf("%w: id %d consumed by nested fill", ErrOrderNotFound, local.ID)
	}

	// The other instance forwarded its escrow to us as the return leg;
	// pass it to the local maker in full.
	if err := c.host.Send(local.Maker, released); err != nil {
		return err
	}

	// Whatever the local escrow did not spend on the other leg is the
	// caller's spread. Zero leftovers are skipped, not transferred.
	leftover := new(uint256.Int).Sub(local.Escrowed.Amount, args.ExpectedPayment.Amount)
	if !leftover.IsZero() {
		profit := asset.NewPayment(local.Escrowed.Class, leftover)
		if err := c.host.Send(call.Caller, profit); err != nil {
			return err
		}
	}

	c.orders.Remove(local.ID)

	c.log.Infow("order_filled_with_other",
		"contract", c.host.SelfAddress().Hex(),
		"order_id", local.ID,
		"other_contract", args.OtherContract.Hex(),
		"other_order_id", args.OtherOrderID,
		"caller", call.Caller.Hex(),
		"profit", leftover.Dec(),
	)
	return nil
}

// Orders returns the live orders sorted by id. Callers synchronize through
// the ledger's View when transactions may be executing.
func (c *Contract) Orders() []*Order {
	return c.orders.Live()
}

// Order returns a live order by id.
func (c *Contract) Order(id uint64) (*Order, bool) {
	return c.orders.Get(id)
}

// Address returns the instance's ledger address.
func (c *Contract) Address() common.Address {
	return c.host.SelfAddress()
}

// MarshalState serializes the order store. Used by the ledger both for
// rollback snapshots and for the persisted contract-state record.
func (c *Contract) MarshalState() ([]byte, error) {
	return json.Marshal(c.orders)
}

// UnmarshalState replaces the order store with a previously serialized one.
func (c *Contract) UnmarshalState(data []byte) error {
	st := NewOrderStore()
	if err := json.Unmarshal(data, st); err != nil {
		return err
	}
	if st.Orders == nil {
		st.Orders = make(map[uint64]*Order)
	}
	if st.NextID == 0 {
		st.NextID = 1
	}
	c.orders = st
	return nil
}
