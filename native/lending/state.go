package lending

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultRegistry exposes the borrower's collateral balances.
type VaultRegistry interface {
	// Holdings lists the owner's non-zero balances in deposit order.
	Holdings(owner common.Address) ([]Holding, error)
	VaultBalance(owner common.Address, vault VaultID, asset common.Address) (*big.Int, error)
	WithdrawFromVault(owner common.Address, vault VaultID, asset common.Address, amount *big.Int) error
}

// Ledger moves and destroys plain token balances.
type Ledger interface {
	Credit(holder, asset common.Address, amount *big.Int) error
	// Burn destroys amount of asset, counting it against the stable supply.
	Burn(asset common.Address, amount *big.Int) error
}

// ReservePool is the shared pool absorbing liquidated collateral.
type ReservePool interface {
	// PoolAssets lists the reserve assets deposited into the pool vault in
	// deposit order.
	PoolAssets(pool VaultID) ([]common.Address, error)
	PoolReserve(pool VaultID, asset common.Address) (*big.Int, error)
	// ReleaseReserve removes amount pro-rata across the pool's depositors.
	ReleaseReserve(pool VaultID, asset common.Address, amount *big.Int) error
	// AbsorbCollateral credits collateral to the pool's depositors.
	AbsorbCollateral(pool VaultID, asset common.Address, amount *big.Int) error
}

// AuctionHouse escrows collateral for later sale.
type AuctionHouse interface {
	StartAuction(owner common.Address, vault VaultID, asset common.Address, amount *big.Int, params AuctionParams) (uint64, error)
}

// DebtLedger tracks borrower debt and the keeper reward budget.
type DebtLedger interface {
	DebtPosition(owner common.Address) (*DebtRecord, error)
	ApplyLiquidation(owner common.Address, repaid, unpaidFees *big.Int, inLiquidation bool) error
	ApplyRepayment(owner common.Address, repaid *big.Int) error
	RewardBudget(token common.Address) (*big.Int, error)
	PayKeeperReward(keeper, token common.Address, amount *big.Int, staked bool) error
}

// Tx is a unit of work over all state collaborators. Either every mutation
// issued through it is committed or none is.
type Tx interface {
	VaultRegistry
	Ledger
	ReservePool
	AuctionHouse
	DebtLedger
	Commit() error
	Rollback()
}

// Backend opens transactions over the state collaborators.
type Backend interface {
	Begin(ctx context.Context) (Tx, error)
}

// PriceOracle returns the USD price of one whole token at UsdDecimals
// precision.
type PriceOracle interface {
	Price(asset common.Address) (*big.Int, error)
}

// ShareConverter converts yield vault shares into underlying units.
type ShareConverter interface {
	// ToUnderlyingOptimistic uses the highest defensible exchange rate.
	ToUnderlyingOptimistic(wrapper common.Address, shares *big.Int) (*big.Int, error)
	// ToUnderlyingSafe uses the conservative, discounted exchange rate.
	ToUnderlyingSafe(wrapper common.Address, shares *big.Int) (*big.Int, error)
}

// Authorizer decides who may deleverage a position.
type Authorizer interface {
	CanDeleverage(caller, owner common.Address) bool
}
