package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema:
//
//   acc:<address> → Account (JSON)
//   ctr:<address> → contract state blob (contract-defined encoding)
//
// Address hex keeps keys readable in debugging tools; prefixes keep the two
// record families in disjoint ranges for prefix scans.

const (
	prefixAccount  = "acc:"
	prefixContract = "ctr:"
)

func accountKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, addr.Hex()))
}

func contractKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixContract, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
