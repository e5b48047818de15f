package escrow_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitlock/pkg/asset"
	"github.com/uhyunpark/limitlock/pkg/escrow"
	"github.com/uhyunpark/limitlock/pkg/ledger"
)

const sftID = "SFT-abcdef"

var (
	deployer = common.HexToAddress("0xDE00000000000000000000000000000000000000")
	sender   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	receiver = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	arb      = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

// newWorld builds an in-memory ledger with two deployed escrow instances.
func newWorld(t *testing.T) (*ledger.Ledger, common.Address, common.Address) {
	t.Helper()
	l := ledger.New(zap.NewNop().Sugar())

	build := func(h ledger.Host) ledger.Contract {
		return escrow.New(h, zap.NewNop().Sugar())
	}
	a, err := l.Deploy(deployer, build)
	if err != nil {
		t.Fatalf("deploy instance A: %v", err)
	}
	b, err := l.Deploy(deployer, build)
	if err != nil {
		t.Fatalf("deploy instance B: %v", err)
	}
	return l, a, b
}

func mint(t *testing.T, l *ledger.Ledger, addr common.Address, p asset.Payment) {
	t.Helper()
	if err := l.Mint(addr, p); err != nil {
		t.Fatalf("mint %s to %s: %v", p, addr.Hex(), err)
	}
}

func createOrder(t *testing.T, l *ledger.Ledger, caller, contract common.Address,
	escrowed asset.Payment, requested asset.Class, amount uint64) uint64 {
	t.Helper()
	ret, err := l.Execute(caller, contract, escrow.FuncCreateOrder, escrow.CreateOrderArgs{
		RequestedClass:  requested,
		RequestedAmount: uint256.NewInt(amount),
	}, &escrowed)
	if err != nil {
		t.Fatalf("create_order: %v", err)
	}
	var res escrow.CreateOrderResult
	if err := json.Unmarshal(ret, &res); err != nil {
		t.Fatalf("decode create_order result: %v", err)
	}
	return res.OrderID
}

func wantBalance(t *testing.T, l *ledger.Ledger, addr common.Address, c asset.Class, amount uint64) {
	t.Helper()
	got := l.BalanceOf(addr, c)
	if got.Cmp(uint256.NewInt(amount)) != 0 {
		t.Errorf("balance of %s for %s = %s, want %d", c, addr.Hex(), got.Dec(), amount)
	}
}

func TestCreateOrderIDsIncrease(t *testing.T) {
	l, a, _ := newWorld(t)
	mint(t, l, sender, asset.NativePayment(uint256.NewInt(300_000)))

	var prev uint64
	for i := 0; i < 3; i++ {
		id := createOrder(t, l, sender, a,
			asset.NativePayment(uint256.NewInt(100_000)), asset.TokenClass(sftID, 1), 100_000)
		if id <= prev {
			t.Fatalf("order id %d not strictly greater than %d", id, prev)
		}
		prev = id
	}
	if prev != 3 {
		t.Errorf("third order id = %d, want 3", prev)
	}
	// All three escrows sit in contract custody.
	wantBalance(t, l, a, asset.NativeClass(), 300_000)
	wantBalance(t, l, sender, asset.NativeClass(), 0)
}

func TestCreateOrderRejections(t *testing.T) {
	l, a, _ := newWorld(t)
	mint(t, l, sender, asset.NativePayment(uint256.NewInt(100_000)))

	goodPayment := asset.NativePayment(uint256.NewInt(50_000))

	tests := []struct {
		name    string
		args    escrow.CreateOrderArgs
		payment *asset.Payment
		wantErr error
	}{
		{
			name:    "no payment attached",
			args:    escrow.CreateOrderArgs{RequestedClass: asset.TokenClass(sftID, 1), RequestedAmount: uint256.NewInt(1)},
			payment: nil,
			wantErr: escrow.ErrNoPaymentAttached,
		},
		{
			name:    "zero attached amount",
			args:    escrow.CreateOrderArgs{RequestedClass: asset.TokenClass(sftID, 1), RequestedAmount: uint256.NewInt(1)},
			payment: &asset.Payment{Class: asset.NativeClass(), Amount: uint256.NewInt(0)},
			wantErr: asset.ErrZeroAmount,
		},
		{
			name:    "zero requested amount",
			args:    escrow.CreateOrderArgs{RequestedClass: asset.TokenClass(sftID, 1), RequestedAmount: uint256.NewInt(0)},
			payment: &goodPayment,
			wantErr: asset.ErrZeroAmount,
		},
		{
			name:    "malformed requested class",
			args:    escrow.CreateOrderArgs{RequestedClass: asset.Class{Kind: asset.Native, TokenID: sftID}, RequestedAmount: uint256.NewInt(1)},
			payment: &goodPayment,
			wantErr: asset.ErrInvalidAsset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Execute(sender, a, escrow.FuncCreateOrder, tt.args, tt.payment)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("create_order error = %v, want %v", err, tt.wantErr)
			}
			// Rejected creates escrow nothing.
			wantBalance(t, l, a, asset.NativeClass(), 0)
			wantBalance(t, l, sender, asset.NativeClass(), 100_000)
		})
	}

	// The counter did not advance across the rejected calls.
	id := createOrder(t, l, sender, a,
		asset.NativePayment(uint256.NewInt(100_000)), asset.TokenClass(sftID, 1), 100_000)
	if id != 1 {
		t.Errorf("first successful order id = %d, want 1 (counter untouched by failures)", id)
	}
}

// TestFillOrder mirrors the basic settlement round-trip: the maker escrows
// 100,000 SFT units asking 100,000 native, the filler pays exactly that.
func TestFillOrder(t *testing.T) {
	l, a, _ := newWorld(t)
	sft := asset.TokenClass(sftID, 1)
	mint(t, l, sender, asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)))
	mint(t, l, receiver, asset.NativePayment(uint256.NewInt(100_000)))

	id := createOrder(t, l, sender, a,
		asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)), asset.NativeClass(), 100_000)

	wantBalance(t, l, a, sft, 100_000)
	wantBalance(t, l, sender, sft, 0)

	pay := asset.NativePayment(uint256.NewInt(100_000))
	if _, err := l.Execute(receiver, a, escrow.FuncFillOrder, escrow.FillOrderArgs{OrderID: id}, &pay); err != nil {
		t.Fatalf("fill_order: %v", err)
	}

	// Maker got the payment, filler got the escrow, custody is empty.
	wantBalance(t, l, sender, asset.NativeClass(), 100_000)
	wantBalance(t, l, receiver, sft, 100_000)
	wantBalance(t, l, receiver, asset.NativeClass(), 0)
	wantBalance(t, l, a, sft, 0)
	wantBalance(t, l, a, asset.NativeClass(), 0)
}

func TestFillOrderRejections(t *testing.T) {
	l, a, _ := newWorld(t)
	sft := asset.TokenClass(sftID, 1)
	mint(t, l, sender, asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)))
	mint(t, l, receiver, asset.NativePayment(uint256.NewInt(200_000)))
	mint(t, l, receiver, asset.TokenPayment(sftID, 1, uint256.NewInt(1_000)))

	id := createOrder(t, l, sender, a,
		asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)), asset.NativeClass(), 100_000)

	tests := []struct {
		name    string
		orderID uint64
		payment asset.Payment
		wantErr error
	}{
		{"unknown order", 42, asset.NativePayment(uint256.NewInt(100_000)), escrow.ErrOrderNotFound},
		{"underpayment", id, asset.NativePayment(uint256.NewInt(90_000)), escrow.ErrAmountMismatch},
		{"overpayment", id, asset.NativePayment(uint256.NewInt(110_000)), escrow.ErrAmountMismatch},
		{"wrong kind", id, asset.TokenPayment(sftID, 1, uint256.NewInt(1_000)), escrow.ErrAssetKindMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pay := tt.payment
			_, err := l.Execute(receiver, a, escrow.FuncFillOrder, escrow.FillOrderArgs{OrderID: tt.orderID}, &pay)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("fill_order error = %v, want %v", err, tt.wantErr)
			}
			// The order and all balances are untouched.
			wantBalance(t, l, a, sft, 100_000)
			wantBalance(t, l, receiver, asset.NativeClass(), 200_000)
			wantBalance(t, l, sender, asset.NativeClass(), 0)
		})
	}
}

func TestFillOrderExactlyOnce(t *testing.T) {
	l, a, _ := newWorld(t)
	mint(t, l, sender, asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)))
	mint(t, l, receiver, asset.NativePayment(uint256.NewInt(200_000)))

	id := createOrder(t, l, sender, a,
		asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)), asset.NativeClass(), 100_000)

	pay := asset.NativePayment(uint256.NewInt(100_000))
	if _, err := l.Execute(receiver, a, escrow.FuncFillOrder, escrow.FillOrderArgs{OrderID: id}, &pay); err != nil {
		t.Fatalf("first fill: %v", err)
	}

	pay2 := asset.NativePayment(uint256.NewInt(100_000))
	_, err := l.Execute(receiver, a, escrow.FuncFillOrder, escrow.FillOrderArgs{OrderID: id}, &pay2)
	if !errors.Is(err, escrow.ErrOrderNotFound) {
		t.Fatalf("second fill error = %v, want ErrOrderNotFound", err)
	}
	// The failed second fill moved nothing.
	wantBalance(t, l, receiver, asset.NativeClass(), 100_000)
	wantBalance(t, l, sender, asset.NativeClass(), 100_000)
}

// arbWorld sets up the two complementary orders of the arbitrage scenario:
// order1 on A escrows 100,000 native asking 100,000 SFT#1; order2 on otherC
// escrows 100,000 SFT#1 asking 90,000 native.
func arbWorld(t *testing.T, l *ledger.Ledger, a, otherC common.Address) (order1, order2 uint64) {
	t.Helper()
	mint(t, l, sender, asset.NativePayment(uint256.NewInt(100_000)))
	mint(t, l, receiver, asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)))

	order1 = createOrder(t, l, sender, a,
		asset.NativePayment(uint256.NewInt(100_000)), asset.TokenClass(sftID, 1), 100_000)
	order2 = createOrder(t, l, receiver, otherC,
		asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)), asset.NativeClass(), 90_000)
	return order1, order2
}

func checkArbOutcome(t *testing.T, l *ledger.Ledger, a, otherC common.Address) {
	t.Helper()
	sft := asset.TokenClass(sftID, 1)

	// Both instances fully drained.
	wantBalance(t, l, a, asset.NativeClass(), 0)
	wantBalance(t, l, a, sft, 0)
	wantBalance(t, l, otherC, asset.NativeClass(), 0)
	wantBalance(t, l, otherC, sft, 0)

	// Makers got their asks, the caller keeps the spread.
	wantBalance(t, l, sender, sft, 100_000)
	wantBalance(t, l, sender, asset.NativeClass(), 0)
	wantBalance(t, l, receiver, asset.NativeClass(), 90_000)
	wantBalance(t, l, receiver, sft, 0)
	wantBalance(t, l, arb, asset.NativeClass(), 10_000)
	wantBalance(t, l, arb, sft, 0)
}

func TestFillOrderWithOther(t *testing.T) {
	l, a, b := newWorld(t)
	order1, order2 := arbWorld(t, l, a, b)

	_, err := l.Execute(arb, a, escrow.FuncFillOrderWithOther, escrow.FillOrderWithOtherArgs{
		LocalOrderID:    order1,
		OtherContract:   b,
		OtherOrderID:    order2,
		ExpectedPayment: asset.NativePayment(uint256.NewInt(90_000)),
	}, nil)
	if err != nil {
		t.Fatalf("fill_order_with_other: %v", err)
	}
	checkArbOutcome(t, l, a, b)
}

func TestFillOrderWithOtherSameInstance(t *testing.T) {
	l, a, _ := newWorld(t)
	order1, order2 := arbWorld(t, l, a, a)

	_, err := l.Execute(arb, a, escrow.FuncFillOrderWithOther, escrow.FillOrderWithOtherArgs{
		LocalOrderID:    order1,
		OtherContract:   a,
		OtherOrderID:    order2,
		ExpectedPayment: asset.NativePayment(uint256.NewInt(90_000)),
	}, nil)
	if err != nil {
		t.Fatalf("self fill_order_with_other: %v", err)
	}
	checkArbOutcome(t, l, a, a)
}

// TestFillOrderWithOtherNoLeftover pins the other leg at exactly the local
// escrow amount: settlement succeeds and the caller earns nothing, with no
// zero-amount transfer attempted.
func TestFillOrderWithOtherNoLeftover(t *testing.T) {
	l, a, b := newWorld(t)
	mint(t, l, sender, asset.NativePayment(uint256.NewInt(100_000)))
	mint(t, l, receiver, asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)))

	order1 := createOrder(t, l, sender, a,
		asset.NativePayment(uint256.NewInt(100_000)), asset.TokenClass(sftID, 1), 100_000)
	order2 := createOrder(t, l, receiver, b,
		asset.TokenPayment(sftID, 1, uint256.NewInt(100_000)), asset.NativeClass(), 100_000)

	_, err := l.Execute(arb, a, escrow.FuncFillOrderWithOther, escrow.FillOrderWithOtherArgs{
		LocalOrderID:    order1,
		OtherContract:   b,
		OtherOrderID:    order2,
		ExpectedPayment: asset.NativePayment(uint256.NewInt(100_000)),
	}, nil)
	if err != nil {
		t.Fatalf("fill_order_with_other: %v", err)
	}

	wantBalance(t, l, arb, asset.NativeClass(), 0)
	wantBalance(t, l, sender, asset.TokenClass(sftID, 1), 100_000)
	wantBalance(t, l, receiver, asset.NativeClass(), 100_000)
	wantBalance(t, l, a, asset.NativeClass(), 0)
	wantBalance(t, l, b, asset.TokenClass(sftID, 1), 0)
}

func TestFillOrderWithOtherRejections(t *testing.T) {
	sft := asset.TokenClass(sftID, 1)

	tests := []struct {
		name    string
		mutate  func(args *escrow.FillOrderWithOtherArgs)
		wantErr error
	}{
		{
			name:    "unknown local order",
			mutate:  func(args *escrow.FillOrderWithOtherArgs) { args.LocalOrderID = 42 },
			wantErr: escrow.ErrOrderNotFound,
		},
		{
			name:    "unknown other order",
			mutate:  func(args *escrow.FillOrderWithOtherArgs) { args.OtherOrderID = 42 },
			wantErr: escrow.ErrOrderNotFound,
		},
		{
			name: "pinned kind cannot be funded by local escrow",
			mutate: func(args *escrow.FillOrderWithOtherArgs) {
				args.ExpectedPayment = asset.TokenPayment(sftID, 1, uint256.NewInt(90_000))
			},
			wantErr: escrow.ErrAssetKindMismatch,
		},
		{
			name: "pinned amount drifted from live terms",
			mutate: func(args *escrow.FillOrderWithOtherArgs) {
				args.ExpectedPayment = asset.NativePayment(uint256.NewInt(80_000))
			},
			wantErr: escrow.ErrAmountMismatch,
		},
		{
			name: "pinned amount exceeds local escrow",
			mutate: func(args *escrow.FillOrderWithOtherArgs) {
				args.ExpectedPayment = asset.NativePayment(uint256.NewInt(150_000))
			},
			wantErr: escrow.ErrInsufficientEscrow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, a, b := newWorld(t)
			order1, order2 := arbWorld(t, l, a, b)

			args := escrow.FillOrderWithOtherArgs{
				LocalOrderID:    order1,
				OtherContract:   b,
				OtherOrderID:    order2,
				ExpectedPayment: asset.NativePayment(uint256.NewInt(90_000)),
			}
			tt.mutate(&args)

			_, err := l.Execute(arb, a, escrow.FuncFillOrderWithOther, args, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}

			// No balances moved and both orders are still live.
			wantBalance(t, l, a, asset.NativeClass(), 100_000)
			wantBalance(t, l, b, sft, 100_000)
			wantBalance(t, l, arb, asset.NativeClass(), 0)
			wantBalance(t, l, sender, sft, 0)
			wantBalance(t, l, receiver, asset.NativeClass(), 0)

			pay := asset.NativePayment(uint256.NewInt(90_000))
			mint(t, l, arb, pay)
			if _, err := l.Execute(arb, b, escrow.FuncFillOrder, escrow.FillOrderArgs{OrderID: order2}, &pay); err != nil {
				t.Errorf("order2 should still be fillable after aborted arbitrage: %v", err)
			}
		})
	}
}

// TestFillOrderWithOtherCannotAliasItself points the other leg at the local
// order itself. The nested fill consumes the order and pays its escrow out
// once; the call must abort there instead of paying the return leg and
// leftover a second time out of other live orders' custody.
func TestFillOrderWithOtherCannotAliasItself(t *testing.T) {
	l, a, _ := newWorld(t)
	mint(t, l, sender, asset.NativePayment(uint256.NewInt(100_000)))
	mint(t, l, receiver, asset.NativePayment(uint256.NewInt(100_000)))

	order1 := createOrder(t, l, sender, a,
		asset.NativePayment(uint256.NewInt(100_000)), asset.NativeClass(), 90_000)
	// A second live order on the same instance whose escrow would fund the
	// double payout.
	createOrder(t, l, receiver, a,
		asset.NativePayment(uint256.NewInt(100_000)), asset.TokenClass(sftID, 1), 1)

	_, err := l.Execute(arb, a, escrow.FuncFillOrderWithOther, escrow.FillOrderWithOtherArgs{
		LocalOrderID:    order1,
		OtherContract:   a,
		OtherOrderID:    order1,
		ExpectedPayment: asset.NativePayment(uint256.NewInt(90_000)),
	}, nil)
	if !errors.Is(err, escrow.ErrOrderNotFound) {
		t.Fatalf("aliased fill error = %v, want ErrOrderNotFound", err)
	}

	// Custody still covers both live escrows; nobody got paid.
	wantBalance(t, l, a, asset.NativeClass(), 200_000)
	wantBalance(t, l, sender, asset.NativeClass(), 0)
	wantBalance(t, l, receiver, asset.NativeClass(), 0)
	wantBalance(t, l, arb, asset.NativeClass(), 0)

	// The order survived the aborted call and settles normally.
	pay := asset.NativePayment(uint256.NewInt(90_000))
	mint(t, l, arb, pay)
	if _, err := l.Execute(arb, a, escrow.FuncFillOrder, escrow.FillOrderArgs{OrderID: order1}, &pay); err != nil {
		t.Fatalf("order should still be fillable after aborted aliased call: %v", err)
	}
	wantBalance(t, l, sender, asset.NativeClass(), 90_000)
}

// TestNestedFailureRollsBackEverything drains order2 first, then checks an
// arbitrage call over the dead order undoes the funding transfer it issued
// before the nested fill failed.
func TestNestedFailureRollsBackEverything(t *testing.T) {
	l, a, b := newWorld(t)
	order1, order2 := arbWorld(t, l, a, b)

	// Fill order2 directly so the nested leg has nothing to fill.
	pay := asset.NativePayment(uint256.NewInt(90_000))
	mint(t, l, arb, pay)
	if _, err := l.Execute(arb, b, escrow.FuncFillOrder, escrow.FillOrderArgs{OrderID: order2}, &pay); err != nil {
		t.Fatalf("drain order2: %v", err)
	}

	_, err := l.Execute(arb, a, escrow.FuncFillOrderWithOther, escrow.FillOrderWithOtherArgs{
		LocalOrderID:    order1,
		OtherContract:   b,
		OtherOrderID:    order2,
		ExpectedPayment: asset.NativePayment(uint256.NewInt(90_000)),
	}, nil)
	if !errors.Is(err, escrow.ErrNestedCallFailed) {
		t.Fatalf("error = %v, want ErrNestedCallFailed", err)
	}
	if !errors.Is(err, escrow.ErrOrderNotFound) {
		t.Fatalf("error = %v, should carry the nested ErrOrderNotFound", err)
	}

	// Instance A still holds order1's full escrow; nothing leaked to B.
	wantBalance(t, l, a, asset.NativeClass(), 100_000)
	wantBalance(t, l, b, asset.NativeClass(), 0)
}
