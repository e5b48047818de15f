package api

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/limitlock/pkg/asset"
	"github.com/uhyunpark/limitlock/pkg/escrow"
)

// Request and response types for the REST surface. Amounts in requests are
// decimal or 0x-hex strings; responses always use decimal strings.

// PaymentBody is an asset payment in a request body.
type PaymentBody struct {
	Kind    asset.Kind   `json:"kind"`
	TokenID string       `json:"tokenId,omitempty"`
	Nonce   uint64       `json:"nonce,omitempty"`
	Amount  *uint256.Int `json:"amount"`
}

func (p PaymentBody) toPayment() asset.Payment {
	return asset.Payment{
		Class:  asset.Class{Kind: p.Kind, TokenID: p.TokenID, Nonce: p.Nonce},
		Amount: p.Amount,
	}
}

// CreateOrderRequest escrows the attached payment on a contract instance.
type CreateOrderRequest struct {
	Caller          string       `json:"caller"`
	Contract        string       `json:"contract"`
	Escrow          PaymentBody  `json:"escrow"`
	RequestedClass  asset.Class  `json:"requestedClass"`
	RequestedAmount *uint256.Int `json:"requestedAmount"`
}

// FillOrderRequest settles an order with the attached payment.
type FillOrderRequest struct {
	Caller   string      `json:"caller"`
	Contract string      `json:"contract"`
	OrderID  uint64      `json:"orderId"`
	Payment  PaymentBody `json:"payment"`
}

// FillWithOtherRequest settles a local order against a complementary order
// on another (or the same) instance. No payment is attached.
type FillWithOtherRequest struct {
	Caller          string      `json:"caller"`
	Contract        string      `json:"contract"`
	LocalOrderID    uint64      `json:"localOrderId"`
	OtherContract   string      `json:"otherContract"`
	OtherOrderID    uint64      `json:"otherOrderId"`
	ExpectedPayment PaymentBody `json:"expectedPayment"`
}

// CreateOrderResponse returns the new order id.
type CreateOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

// PaymentInfo is an asset payment in a response.
type PaymentInfo struct {
	Kind    string `json:"kind"`
	TokenID string `json:"tokenId,omitempty"`
	Nonce   uint64 `json:"nonce,omitempty"`
	Amount  string `json:"amount"`
}

func paymentInfo(p asset.Payment) PaymentInfo {
	return PaymentInfo{
		Kind:    p.Kind.String(),
		TokenID: p.TokenID,
		Nonce:   p.Nonce,
		Amount:  p.Amount.Dec(),
	}
}

// OrderInfo is a live order.
type OrderInfo struct {
	ID              uint64      `json:"id"`
	Maker           string      `json:"maker"`
	Escrowed        PaymentInfo `json:"escrowed"`
	RequestedClass  asset.Class `json:"requestedClass"`
	RequestedAmount string      `json:"requestedAmount"`
}

func orderInfo(o *escrow.Order) OrderInfo {
	return OrderInfo{
		ID:              o.ID,
		Maker:           o.Maker.Hex(),
		Escrowed:        paymentInfo(o.Escrowed),
		RequestedClass:  o.RequestedClass,
		RequestedAmount: o.RequestedAmount.Dec(),
	}
}

// ContractInfo names a deployed escrow instance.
type ContractInfo struct {
	Address    string `json:"address"`
	LiveOrders int    `json:"liveOrders"`
}

// AccountInfo reports an address's balances.
type AccountInfo struct {
	Address  string            `json:"address"`
	Native   string            `json:"native"`
	Holdings map[string]string `json:"holdings"`
}

// OrderEvent is broadcast on the WebSocket feed after each committed
// transaction.
type OrderEvent struct {
	Type     string `json:"type"` // order_created | order_filled | arb_filled
	Contract string `json:"contract"`
	OrderID  uint64 `json:"orderId"`
	Caller   string `json:"caller"`
}
