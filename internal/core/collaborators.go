package core

import (
	"BlueLedger/internal/ledger"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token moves one asset on behalf of the ledger. Transfer spends the
// ledger's own balance; TransferFrom pulls funds the owner approved.
type Token interface {
	Transfer(to common.Address, amount *uint256.Int) error
	TransferFrom(from, to common.Address, amount *uint256.Int) error
	BalanceOf(account common.Address) *uint256.Int
}

// Oracle quotes one unit of collateral in loan token, scaled by 1e36.
type Oracle interface {
	Price() (*uint256.Int, error)
}

// RateModel returns a market's per-second borrow rate, WAD-scaled.
type RateModel interface {
	BorrowRate(params state.MarketParams, market state.Market) (*uint256.Int, error)
}

// TokenDirectory resolves asset addresses to Token implementations.
type TokenDirectory interface {
	Token(asset common.Address) (Token, error)
}

// Checkpointer is implemented by token directories whose movements can be
// rolled back together with ledger state.
type Checkpointer interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit()
}

// bookDirectory serves tokens from the custody book, bound to the ledger's
// own account.
type bookDirectory struct {
	book *ledger.Book
	self common.Address
}

func (d bookDirectory) Token(asset common.Address) (Token, error) {
	v, err := d.book.View(asset, d.self)
	if err != nil {
		return nil, err
	}
	return v, nil
}
