package event

import (
	"encoding/json"
	"fmt"
)

// NewCommand returns an empty command of the given type.
func NewCommand(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeCreateMarket:
		return &CreateMarket{}, nil
	case CommandTypeEnableRateModel:
		return &EnableRateModel{}, nil
	case CommandTypeEnableLltv:
		return &EnableLltv{}, nil
	case CommandTypeSetOwner:
		return &SetOwner{}, nil
	case CommandTypeSetFee:
		return &SetFee{}, nil
	case CommandTypeSetFeeRecipient:
		return &SetFeeRecipient{}, nil
	case CommandTypeSetAuthorization:
		return &SetAuthorization{}, nil
	case CommandTypeAccrueInterest:
		return &AccrueInterest{}, nil
	case CommandTypeSupply:
		return &Supply{}, nil
	case CommandTypeWithdraw:
		return &Withdraw{}, nil
	case CommandTypeBorrow:
		return &Borrow{}, nil
	case CommandTypeRepay:
		return &Repay{}, nil
	case CommandTypeSupplyCollateral:
		return &SupplyCollateral{}, nil
	case CommandTypeWithdrawCollateral:
		return &WithdrawCollateral{}, nil
	case CommandTypeLiquidate:
		return &Liquidate{}, nil
	case CommandTypeFlashLoan:
		return &FlashLoan{}, nil
	case CommandTypeTokenDeposit:
		return &TokenDeposit{}, nil
	case CommandTypeTokenWithdrawal:
		return &TokenWithdrawal{}, nil
	case CommandTypeTokenApprove:
		return &TokenApprove{}, nil
	case CommandTypePriceUpdate:
		return &PriceUpdate{}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", ct)
	}
}

// DecodeCommand decodes a JSON payload produced by EncodeCommand.
func DecodeCommand(ct CommandType, payload []byte) (Command, error) {
	cmd, err := NewCommand(ct)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	return cmd, nil
}

// EncodeCommand produces the replayable JSON form of a command.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return payload, nil
}
