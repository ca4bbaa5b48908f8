package core

import (
	"fmt"

	"BlueLedger/internal/event"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CreateMarket opens an empty market. Anyone may create a market whose rate
// model and LLTV are whitelisted.
func (c *DeterministicCore) CreateMarket(caller common.Address, params state.MarketParams) error {
	return c.atomic(func() error {
		if params.Lltv == nil {
			return fmt.Errorf("%w: missing lltv", state.ErrLltvNotEnabled)
		}
		params.Lltv = params.Lltv.Clone()

		if !c.registry.IsRateModelEnabled(params.RateModel) {
			return fmt.Errorf("%w: %s", state.ErrRateModelNotEnabled, params.RateModel.Hex())
		}
		if !c.registry.IsLltvEnabled(params.Lltv) {
			return fmt.Errorf("%w: %s", state.ErrLltvNotEnabled, params.Lltv.Dec())
		}
		id := params.ID()
		if c.registry.HasMarket(id) {
			return fmt.Errorf("%w: %s", state.ErrMarketAlreadyExists, id.Hex())
		}

		m := state.NewMarket(c.now)
		c.registry.PutMarket(params, m)
		c.onUndo(func() { c.registry.RemoveMarket(id) })
		c.touchedMarkets[id] = true

		// Stateful rate models initialise on their first call.
		if !isZeroAddr(params.RateModel) {
			rm, err := c.rateModel(params.RateModel)
			if err != nil {
				return err
			}
			if _, err := rm.BorrowRate(params, *m.Clone()); err != nil {
				return fmt.Errorf("rate model %s: %w", params.RateModel.Hex(), err)
			}
		}

		c.emit(&event.MarketCreated{ID: id, Params: params})
		return nil
	})
}

func (c *DeterministicCore) EnableRateModel(caller, irm common.Address) error {
	return c.atomic(func() error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if c.registry.IsRateModelEnabled(irm) {
			return fmt.Errorf("%w: rate model %s", state.ErrAlreadySet, irm.Hex())
		}
		c.registry.SetRateModelEnabled(irm, true)
		c.onUndo(func() { c.registry.SetRateModelEnabled(irm, false) })
		c.emit(&event.RateModelEnabled{RateModel: irm})
		return nil
	})
}

func (c *DeterministicCore) EnableLltv(caller common.Address, lltv *uint256.Int) error {
	return c.atomic(func() error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if lltv == nil {
			return fmt.Errorf("%w: missing lltv", state.ErrInconsistentInput)
		}
		if c.registry.IsLltvEnabled(lltv) {
			return fmt.Errorf("%w: lltv %s", state.ErrAlreadySet, lltv.Dec())
		}
		if err := state.ValidateLltv(lltv); err != nil {
			return err
		}
		v := lltv.Clone()
		c.registry.SetLltvEnabled(v, true)
		c.onUndo(func() { c.registry.SetLltvEnabled(v, false) })
		c.emit(&event.LltvEnabled{Lltv: v})
		return nil
	})
}

func (c *DeterministicCore) SetOwner(caller, newOwner common.Address) error {
	return c.atomic(func() error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		prev := c.registry.Owner
		if newOwner == prev {
			return fmt.Errorf("%w: owner", state.ErrAlreadySet)
		}
		c.registry.Owner = newOwner
		c.onUndo(func() { c.registry.Owner = prev })
		c.emit(&event.OwnerSet{Owner: newOwner})
		return nil
	})
}

// SetFee accrues interest at the old fee before switching.
func (c *DeterministicCore) SetFee(caller common.Address, params state.MarketParams, fee *uint256.Int) error {
	return c.atomic(func() error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		id, err := c.requireMarket(params)
		if err != nil {
			return err
		}
		if fee == nil {
			return fmt.Errorf("%w: missing fee", state.ErrInconsistentInput)
		}
		if c.registry.Market(id).Fee.Eq(fee) {
			return fmt.Errorf("%w: fee", state.ErrAlreadySet)
		}
		if err := state.ValidateFee(fee); err != nil {
			return err
		}
		if err := c.accrueInterest(params, id); err != nil {
			return err
		}

		m := c.marketForUpdate(id)
		m.Fee = fee.Clone()
		c.emit(&event.FeeSet{ID: id, Fee: fee.Clone()})
		return nil
	})
}

func (c *DeterministicCore) SetFeeRecipient(caller, recipient common.Address) error {
	return c.atomic(func() error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		prev := c.registry.FeeRecipient
		if recipient == prev {
			return fmt.Errorf("%w: fee recipient", state.ErrAlreadySet)
		}
		c.registry.FeeRecipient = recipient
		c.onUndo(func() { c.registry.FeeRecipient = prev })
		c.emit(&event.FeeRecipientSet{Recipient: recipient})
		return nil
	})
}

// SetAuthorization lets delegate manage the caller's positions.
func (c *DeterministicCore) SetAuthorization(caller, delegate common.Address, authorized bool) error {
	return c.atomic(func() error {
		if c.auths.IsAuthorized(caller, delegate) == authorized {
			return fmt.Errorf("%w: authorization", state.ErrAlreadySet)
		}
		prev := c.auths.Set(caller, delegate, authorized)
		c.onUndo(func() { c.auths.Set(caller, delegate, prev) })
		c.emit(&event.AuthorizationSet{Authorizer: caller, Delegate: delegate, Authorized: authorized})
		return nil
	})
}
