package domain

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// MsgKind classifies an execute message for batching and reporting.
type MsgKind string

const (
	MsgTriggerTpSl MsgKind = "trigger_tp_sl"
	MsgLiquidate   MsgKind = "liquidate"
	MsgPayFunding  MsgKind = "pay_funding"
	MsgAppendPrice MsgKind = "append_price"
)

// ExecuteMsg is a JSON-serialisable contract execute message.
type ExecuteMsg interface {
	Kind() MsgKind
}

// PositionAction targets one position of a vAMM. It is the body of both
// trigger_tp_sl and liquidate.
type PositionAction struct {
	PositionID      uint64      `json:"position_id"`
	QuoteAssetLimit sdkmath.Int `json:"quote_asset_limit"`
	Vamm            string      `json:"vamm"`
}

// PayFunding settles funding for one vAMM.
type PayFunding struct {
	Vamm string `json:"vamm"`
}

// EngineMsg is the margin engine execute message. Exactly one field is set.
type EngineMsg struct {
	TriggerTpSl *PositionAction `json:"trigger_tp_sl,omitempty"`
	Liquidate   *PositionAction `json:"liquidate,omitempty"`
	PayFunding  *PayFunding     `json:"pay_funding,omitempty"`
}

// Kind reports which variant is set.
func (m EngineMsg) Kind() MsgKind {
	switch {
	case m.TriggerTpSl != nil:
		return MsgTriggerTpSl
	case m.Liquidate != nil:
		return MsgLiquidate
	case m.PayFunding != nil:
		return MsgPayFunding
	default:
		return ""
	}
}

// AppendPrice records an oracle price on the price feed contract.
type AppendPrice struct {
	Key       string      `json:"key"`
	Price     sdkmath.Int `json:"price"`
	Timestamp int64       `json:"timestamp"`
}

// PricefeedMsg is the price feed execute message.
type PricefeedMsg struct {
	AppendPrice *AppendPrice `json:"append_price,omitempty"`
}

// Kind reports which variant is set.
func (m PricefeedMsg) Kind() MsgKind {
	if m.AppendPrice != nil {
		return MsgAppendPrice
	}
	return ""
}

// ExecuteInstruction is one contract call of a multi-message transaction.
type ExecuteInstruction struct {
	ContractAddress string     `json:"contract_address"`
	Msg             ExecuteMsg `json:"msg"`
}

// Kind is a shorthand for Msg.Kind.
func (i ExecuteInstruction) Kind() MsgKind {
	if i.Msg == nil {
		return ""
	}
	return i.Msg.Kind()
}

// Key identifies the instruction for deduplication within a batch.
func (i ExecuteInstruction) Key() string {
	switch m := i.Msg.(type) {
	case EngineMsg:
		switch {
		case m.TriggerTpSl != nil:
			return fmt.Sprintf("%s|%s|%s|%d", i.ContractAddress, MsgTriggerTpSl, m.TriggerTpSl.Vamm, m.TriggerTpSl.PositionID)
		case m.Liquidate != nil:
			return fmt.Sprintf("%s|%s|%s|%d", i.ContractAddress, MsgLiquidate, m.Liquidate.Vamm, m.Liquidate.PositionID)
		case m.PayFunding != nil:
			return fmt.Sprintf("%s|%s|%s", i.ContractAddress, MsgPayFunding, m.PayFunding.Vamm)
		}
	case PricefeedMsg:
		if m.AppendPrice != nil {
			return fmt.Sprintf("%s|%s|%s|%d", i.ContractAddress, MsgAppendPrice, m.AppendPrice.Key, m.AppendPrice.Timestamp)
		}
	}
	return fmt.Sprintf("%s|%v", i.ContractAddress, i.Msg)
}

// NewTriggerTpSl builds a trigger_tp_sl instruction with no quote limit.
func NewTriggerTpSl(engine, vamm string, positionID uint64) ExecuteInstruction {
	return ExecuteInstruction{
		ContractAddress: engine,
		Msg: EngineMsg{TriggerTpSl: &PositionAction{
			PositionID:      positionID,
			QuoteAssetLimit: sdkmath.ZeroInt(),
			Vamm:            vamm,
		}},
	}
}

// NewLiquidate builds a liquidate instruction with no quote limit.
func NewLiquidate(engine, vamm string, positionID uint64) ExecuteInstruction {
	return ExecuteInstruction{
		ContractAddress: engine,
		Msg: EngineMsg{Liquidate: &PositionAction{
			PositionID:      positionID,
			QuoteAssetLimit: sdkmath.ZeroInt(),
			Vamm:            vamm,
		}},
	}
}

// NewPayFunding builds a pay_funding instruction.
func NewPayFunding(engine, vamm string) ExecuteInstruction {
	return ExecuteInstruction{
		ContractAddress: engine,
		Msg:             EngineMsg{PayFunding: &PayFunding{Vamm: vamm}},
	}
}

// NewAppendPrice builds an append_price instruction for the price feed.
func NewAppendPrice(pricefeed, key string, price sdkmath.Int, timestamp int64) ExecuteInstruction {
	return ExecuteInstruction{
		ContractAddress: pricefeed,
		Msg: PricefeedMsg{AppendPrice: &AppendPrice{
			Key:       key,
			Price:     price,
			Timestamp: timestamp,
		}},
	}
}

// TxResult describes a transaction included in a block.
type TxResult struct {
	Hash      string `json:"hash"`
	Height    int64  `json:"height"`
	GasWanted int64  `json:"gas_wanted"`
	GasUsed   int64  `json:"gas_used"`
}
