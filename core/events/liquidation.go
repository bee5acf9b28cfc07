package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/core/types"
)

const (
	// TypeReserveSwap is emitted when collateral is swapped into a reserve pool.
	TypeReserveSwap = "liquidation.reserve_swap"
	// TypeBurntAsRepayment is emitted when collateral is burned against debt.
	TypeBurntAsRepayment = "liquidation.burnt_as_repayment"
	// TypeSentToTreasury is emitted when collateral is moved to the treasury.
	TypeSentToTreasury = "liquidation.sent_to_treasury"
	// TypeAuctionStarted is emitted when collateral is escrowed for auction.
	TypeAuctionStarted = "liquidation.auction_started"
	// TypeKeeperRewarded is emitted when a keeper fee is paid out.
	TypeKeeperRewarded = "liquidation.keeper_rewarded"
	// TypePositionLiquidated is emitted once per settled liquidation.
	TypePositionLiquidated = "liquidation.position_liquidated"
	// TypePositionDeleveraged is emitted once per settled deleverage.
	TypePositionDeleveraged = "liquidation.position_deleveraged"
)

// ReserveSwap records collateral exchanged for a reserve pool asset. The
// amount/value swapped describe the reserve leg; the collateral fields
// describe what left the borrower's vault.
type ReserveSwap struct {
	Owner               common.Address
	Vault               uint64
	LiqAsset            common.Address
	ReserveAsset        common.Address
	ReserveVault        uint64
	AmountSwapped       *big.Int
	ValueSwapped        *big.Int
	CollateralAmountOut *big.Int
	CollateralValueOut  *big.Int
}

func (ReserveSwap) EventType() string { return TypeReserveSwap }

func (e ReserveSwap) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveSwap,
		Attributes: map[string]string{
			"owner":               addressString(e.Owner),
			"vaultId":             strconv.FormatUint(e.Vault, 10),
			"liqAsset":            addressString(e.LiqAsset),
			"reserveAsset":        addressString(e.ReserveAsset),
			"reserveVaultId":      strconv.FormatUint(e.ReserveVault, 10),
			"amountSwapped":       amountString(e.AmountSwapped),
			"valueSwapped":        amountString(e.ValueSwapped),
			"collateralAmountOut": amountString(e.CollateralAmountOut),
			"collateralValueOut":  amountString(e.CollateralValueOut),
		},
	}
}

// BurntAsRepayment records collateral burned at face value against debt.
type BurntAsRepayment struct {
	Owner           common.Address
	Vault           uint64
	Asset           common.Address
	AmountBurned    *big.Int
	UsdValue        *big.Int
	IsFullyDepleted bool
}

func (BurntAsRepayment) EventType() string { return TypeBurntAsRepayment }

func (e BurntAsRepayment) Event() *types.Event {
	return &types.Event{
		Type: TypeBurntAsRepayment,
		Attributes: map[string]string{
			"owner":           addressString(e.Owner),
			"vaultId":         strconv.FormatUint(e.Vault, 10),
			"asset":           addressString(e.Asset),
			"amountBurned":    amountString(e.AmountBurned),
			"usdValue":        amountString(e.UsdValue),
			"isFullyDepleted": strconv.FormatBool(e.IsFullyDepleted),
		},
	}
}

// SentToTreasury records collateral transferred to the protocol treasury.
type SentToTreasury struct {
	Owner           common.Address
	Vault           uint64
	Asset           common.Address
	AmountSent      *big.Int
	UsdValue        *big.Int
	IsFullyDepleted bool
}

func (SentToTreasury) EventType() string { return TypeSentToTreasury }

func (e SentToTreasury) Event() *types.Event {
	return &types.Event{
		Type: TypeSentToTreasury,
		Attributes: map[string]string{
			"owner":           addressString(e.Owner),
			"vaultId":         strconv.FormatUint(e.Vault, 10),
			"asset":           addressString(e.Asset),
			"amountSent":      amountString(e.AmountSent),
			"usdValue":        amountString(e.UsdValue),
			"isFullyDepleted": strconv.FormatBool(e.IsFullyDepleted),
		},
	}
}

// AuctionStarted records collateral escrowed into the auction house.
type AuctionStarted struct {
	AuctionID     uint64
	Owner         common.Address
	Vault         uint64
	Asset         common.Address
	Amount        *big.Int
	StartDiscount uint64
	MaxDiscount   uint64
	Delay         uint64
	Duration      uint64
}

func (AuctionStarted) EventType() string { return TypeAuctionStarted }

func (e AuctionStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeAuctionStarted,
		Attributes: map[string]string{
			"auctionId":     strconv.FormatUint(e.AuctionID, 10),
			"owner":         addressString(e.Owner),
			"vaultId":       strconv.FormatUint(e.Vault, 10),
			"asset":         addressString(e.Asset),
			"amount":        amountString(e.Amount),
			"startDiscount": strconv.FormatUint(e.StartDiscount, 10),
			"maxDiscount":   strconv.FormatUint(e.MaxDiscount, 10),
			"delay":         strconv.FormatUint(e.Delay, 10),
			"duration":      strconv.FormatUint(e.Duration, 10),
		},
	}
}

// KeeperRewarded records the incentive paid to the liquidating keeper.
type KeeperRewarded struct {
	Keeper   common.Address
	Owner    common.Address
	Token    common.Address
	Amount   *big.Int
	UsdValue *big.Int
	Staked   bool
}

func (KeeperRewarded) EventType() string { return TypeKeeperRewarded }

func (e KeeperRewarded) Event() *types.Event {
	return &types.Event{
		Type: TypeKeeperRewarded,
		Attributes: map[string]string{
			"keeper":   addressString(e.Keeper),
			"owner":    addressString(e.Owner),
			"token":    addressString(e.Token),
			"amount":   amountString(e.Amount),
			"usdValue": amountString(e.UsdValue),
			"staked":   strconv.FormatBool(e.Staked),
		},
	}
}

// PositionLiquidated summarises a settled liquidation.
type PositionLiquidated struct {
	Owner              common.Address
	Keeper             common.Address
	KeeperFee          *big.Int
	TotalFees          *big.Int
	RepaidAmount       *big.Int
	TargetRepayAmount  *big.Int
	DidRestoreHealth   bool
	NumAuctionsStarted int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionLiquidated,
		Attributes: map[string]string{
			"owner":              addressString(e.Owner),
			"keeper":             addressString(e.Keeper),
			"keeperFee":          amountString(e.KeeperFee),
			"totalFees":          amountString(e.TotalFees),
			"repaidAmount":       amountString(e.RepaidAmount),
			"targetRepayAmount":  amountString(e.TargetRepayAmount),
			"didRestoreHealth":   strconv.FormatBool(e.DidRestoreHealth),
			"numAuctionsStarted": strconv.Itoa(e.NumAuctionsStarted),
		},
	}
}

// PositionDeleveraged summarises a settled deleverage.
type PositionDeleveraged struct {
	Owner             common.Address
	Caller            common.Address
	TargetRepayAmount *big.Int
	RepaidAmount      *big.Int
	HasGoodDebtHealth bool
}

func (PositionDeleveraged) EventType() string { return TypePositionDeleveraged }

func (e PositionDeleveraged) Event() *types.Event {
	return &types.Event{
		Type: TypePositionDeleveraged,
		Attributes: map[string]string{
			"owner":             addressString(e.Owner),
			"caller":            addressString(e.Caller),
			"targetRepayAmount": amountString(e.TargetRepayAmount),
			"repaidAmount":      amountString(e.RepaidAmount),
			"hasGoodDebtHealth": strconv.FormatBool(e.HasGoodDebtHealth),
		},
	}
}
