package types

import "strings"

type Side string

type PositionStatus string

type OrderType string

type OrderStatus string

type QuoteSource string

type AssetClass string

type ChargeMode string

type CloseReason string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

const (
	PositionStatusOpen            PositionStatus = "open"
	PositionStatusPartiallyClosed PositionStatus = "partially_closed"
	PositionStatusClosed          PositionStatus = "closed"
)

const (
	OrderTypeBuyLimit  OrderType = "buy_limit"
	OrderTypeSellLimit OrderType = "sell_limit"
	OrderTypeBuyStop   OrderType = "buy_stop"
	OrderTypeSellStop  OrderType = "sell_stop"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

const (
	QuoteSourceLive      QuoteSource = "live"
	QuoteSourceSynthetic QuoteSource = "synthetic"
)

const (
	AssetClassForex  AssetClass = "forex"
	AssetClassMetal  AssetClass = "metal"
	AssetClassIndex  AssetClass = "index"
	AssetClassCrypto AssetClass = "crypto"
	AssetClassEnergy AssetClass = "energy"
)

const (
	ChargeModePerLot       ChargeMode = "per_lot"
	ChargeModePerExecution ChargeMode = "per_execution"
	ChargeModePercentage   ChargeMode = "percentage"
)

const (
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopOut    CloseReason = "stop_out"
	CloseReasonManual     CloseReason = "manual"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Sign is +1 for long and -1 for short.
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

func (s PositionStatus) Active() bool {
	return s == PositionStatusOpen || s == PositionStatusPartiallyClosed
}

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeBuyLimit, OrderTypeSellLimit, OrderTypeBuyStop, OrderTypeSellStop:
		return true
	}
	return false
}

// Side returns the side of the position an order opens once filled.
func (t OrderType) Side() Side {
	if t == OrderTypeSellLimit || t == OrderTypeSellStop {
		return SideShort
	}
	return SideLong
}

func (m ChargeMode) Valid() bool {
	switch m {
	case ChargeModePerLot, ChargeModePerExecution, ChargeModePercentage:
		return true
	}
	return false
}

func ParseAssetClass(v string) (AssetClass, bool) {
	c := AssetClass(strings.ToLower(strings.TrimSpace(v)))
	switch c {
	case AssetClassForex, AssetClassMetal, AssetClassIndex, AssetClassCrypto, AssetClassEnergy:
		return c, true
	}
	return "", false
}
