package ledger

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

func sortAddresses(a []common.Address) {
	sort.Slice(a, func(i, j int) bool { return bytes.Compare(a[i][:], a[j][:]) < 0 })
}

func sortAllowances(a []AllowanceEntry) {
	sort.Slice(a, func(i, j int) bool {
		if c := bytes.Compare(a[i].Asset[:], a[j].Asset[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(a[i].Owner[:], a[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a[i].Spender[:], a[j].Spender[:]) < 0
	})
}
