package escrow

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/limitlock/pkg/asset"
)

// Order is a standing offer: the maker escrowed one asset and asks for an
// exact amount of another class. The escrowed and requested amounts are
// independent prices; nothing ties their values together.
//
// An order is a claim ticket redeemable exactly once. It lives in the store
// from creation until filled, then is removed; its id is never reused.
type Order struct {
	ID              uint64         `json:"id"`
	Maker           common.Address `json:"maker"`
	Escrowed        asset.Payment  `json:"escrowed"`
	RequestedClass  asset.Class    `json:"requestedClass"`
	RequestedAmount *uint256.Int   `json:"requestedAmount"`
}

// OrderStore is the u64-keyed arena holding live orders for one contract
// instance. Ids come from a strictly increasing counter starting at 1 at
// deployment and are never reused, including after a fill.
//
// Exported fields so the store is the contract's serialized state as-is.
type OrderStore struct {
	NextID uint64            `json:"nextId"`
	Orders map[uint64]*Order `json:"orders"`
}

// NewOrderStore creates an empty store with the id counter at its base.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		NextID: 1,
		Orders: make(map[uint64]*Order),
	}
}

// Insert assigns the next id, stores the order and returns the id.
func (s *OrderStore) Insert(o *Order) uint64 {
	o.ID = s.NextID
	s.NextID++
	s.Orders[o.ID] = o
	return o.ID
}

// Get looks up a live order.
func (s *OrderStore) Get(id uint64) (*Order, bool) {
	o, ok := s.Orders[id]
	return o, ok
}

// Remove deletes an order. Callers remove only as the last state mutation of
// a successful fill, after all transfers for the call have been issued.
func (s *OrderStore) Remove(id uint64) {
	delete(s.Orders, id)
}

// Len returns the number of live orders.
func (s *OrderStore) Len() int {
	return len(s.Orders)
}

// Live returns all live orders sorted by id, for query surfaces.
func (s *OrderStore) Live() []*Order {
	out := make([]*Order, 0, len(s.Orders))
	for _, o := range s.Orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
