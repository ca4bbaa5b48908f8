package core

import (
	"errors"
	"fmt"

	"BlueLedger/internal/ledger"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RegisterOracle binds an oracle address to an implementation. Addresses
// without a registration read the price feed.
func (c *DeterministicCore) RegisterOracle(addr common.Address, o Oracle) {
	c.oracles[addr] = o
}

// RegisterRateModel binds a rate model address to an implementation.
func (c *DeterministicCore) RegisterRateModel(addr common.Address, rm RateModel) {
	c.rateModels[addr] = rm
}

func (c *DeterministicCore) requireMarket(params state.MarketParams) (state.MarketID, error) {
	id := params.ID()
	if !c.registry.HasMarket(id) {
		return id, fmt.Errorf("%w: %s", state.ErrMarketNotCreated, id.Hex())
	}
	return id, nil
}

func (c *DeterministicCore) requireOwner(caller common.Address) error {
	if caller != c.registry.Owner {
		return fmt.Errorf("%w: %s", state.ErrNotOwner, caller.Hex())
	}
	return nil
}

func (c *DeterministicCore) requireAuthorized(caller, onBehalf common.Address) error {
	if !c.auths.IsSenderAuthorized(caller, onBehalf) {
		return fmt.Errorf("%w: %s for %s", state.ErrNotAuthorized, caller.Hex(), onBehalf.Hex())
	}
	return nil
}

func (c *DeterministicCore) rateModel(addr common.Address) (RateModel, error) {
	rm, ok := c.rateModels[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrUnknownRateModel, addr.Hex())
	}
	return rm, nil
}

func (c *DeterministicCore) oracle(addr common.Address) (Oracle, error) {
	if o, ok := c.oracles[addr]; ok {
		return o, nil
	}
	if _, ok := c.feed.Latest(addr); ok {
		return c.feed.Source(addr), nil
	}
	return nil, fmt.Errorf("%w: %s", state.ErrUnknownOracle, addr.Hex())
}

func (c *DeterministicCore) price(params state.MarketParams) (*uint256.Int, error) {
	o, err := c.oracle(params.Oracle)
	if err != nil {
		return nil, err
	}
	p, err := o.Price()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrPriceUnavailable, err)
	}
	return p, nil
}

func (c *DeterministicCore) token(asset common.Address) (Token, error) {
	t, err := c.tokens.Token(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrUnknownToken, err)
	}
	return t, nil
}

// pull moves amount from -> custody using the custody's allowance.
func (c *DeterministicCore) pull(asset, from common.Address, amount *uint256.Int) error {
	t, err := c.token(asset)
	if err != nil {
		return err
	}
	if err := t.TransferFrom(from, c.opts.Custody, amount); err != nil {
		return fmt.Errorf("%w: pull %s from %s: %w", state.ErrTransferFailed, amount.Dec(), from.Hex(), err)
	}
	return nil
}

// push moves amount custody -> to.
func (c *DeterministicCore) push(asset, to common.Address, amount *uint256.Int) error {
	t, err := c.token(asset)
	if err != nil {
		return err
	}
	if err := t.Transfer(to, amount); err != nil {
		return fmt.Errorf("%w: push %s to %s: %w", state.ErrTransferFailed, amount.Dec(), to.Hex(), err)
	}
	return nil
}

// isHealthy reads the position and, only when it has debt, the oracle.
func (c *DeterministicCore) isHealthy(params state.MarketParams, id state.MarketID, user common.Address) (bool, error) {
	pos := c.positions.View(id, user)
	if !pos.HasDebt() {
		return true, nil
	}
	price, err := c.price(params)
	if err != nil {
		return false, err
	}
	return state.IsHealthy(params, c.registry.Market(id), pos, price)
}

// mapLedgerErr translates custody book failures into ledger errors.
func mapLedgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrUnknownToken):
		return fmt.Errorf("%w: %v", state.ErrUnknownToken, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", state.ErrInsufficientBalance, err)
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return fmt.Errorf("%w: %v", state.ErrInsufficientAllowance, err)
	default:
		return err
	}
}

func isZeroAddr(a common.Address) bool {
	return a == (common.Address{})
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	return fpmath.Add(x, y)
}
