package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultID identifies a collateral vault. Zero is reserved for "no vault".
type VaultID uint64

// VaultAsset is the unit of disposal: one asset held inside one vault.
type VaultAsset struct {
	Vault VaultID        `toml:"vault" json:"vault"`
	Asset common.Address `toml:"asset" json:"asset"`
}

func (va VaultAsset) String() string {
	return fmt.Sprintf("%d/%s", va.Vault, va.Asset.Hex())
}

// PriorityList is an ordered set of vault/asset pairs consulted before the
// natural holding order.
type PriorityList []VaultAsset

// Dedup returns a copy of the list with later duplicates and zero entries
// removed. Order of first appearance is preserved.
func (l PriorityList) Dedup() PriorityList {
	if len(l) == 0 {
		return nil
	}
	seen := make(map[VaultAsset]struct{}, len(l))
	out := make(PriorityList, 0, len(l))
	for _, entry := range l {
		if entry.Vault == 0 || entry.Asset == (common.Address{}) {
			continue
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// DebtTerms are the collateral-weighted terms governing a position. All
// values are basis points of HundredPercent.
type DebtTerms struct {
	LTV                 uint64 `toml:"ltv" json:"ltv"`
	RedemptionThreshold uint64 `toml:"redemption_threshold" json:"redemptionThreshold"`
	LiqThreshold        uint64 `toml:"liq_threshold" json:"liqThreshold"`
	LiqFee              uint64 `toml:"liq_fee" json:"liqFee"`
	BorrowRate          uint64 `toml:"borrow_rate" json:"borrowRate"`
	Daowry              uint64 `toml:"daowry" json:"daowry"`
}

// Validate enforces the threshold ordering of the terms.
func (t DebtTerms) Validate() error {
	if t.LTV > t.RedemptionThreshold {
		return fmt.Errorf("%w: ltv %d above redemption threshold %d", ErrInvalidDebtTerms, t.LTV, t.RedemptionThreshold)
	}
	if t.RedemptionThreshold > t.LiqThreshold {
		return fmt.Errorf("%w: redemption threshold %d above liquidation threshold %d", ErrInvalidDebtTerms, t.RedemptionThreshold, t.LiqThreshold)
	}
	if t.LiqThreshold > HundredPercent {
		return fmt.Errorf("%w: liquidation threshold %d above 100%%", ErrInvalidDebtTerms, t.LiqThreshold)
	}
	if t.LiqThreshold+t.LiqFee > HundredPercent {
		return fmt.Errorf("%w: liquidation threshold plus fee exceeds 100%%", ErrInvalidDebtTerms)
	}
	if t.LTV != 0 && (t.LiqFee == 0 || t.BorrowRate == 0) {
		return fmt.Errorf("%w: non-zero ltv requires liquidation fee and borrow rate", ErrInvalidDebtTerms)
	}
	return nil
}

// AuctionParams describe the discount curve of a collateral auction.
type AuctionParams struct {
	StartDiscount uint64 `toml:"start_discount" json:"startDiscount"`
	MaxDiscount   uint64 `toml:"max_discount" json:"maxDiscount"`
	Delay         uint64 `toml:"delay" json:"delay"`
	Duration      uint64 `toml:"duration" json:"duration"`
}

// Validate checks the discount ordering and duration.
func (p AuctionParams) Validate() error {
	if p.StartDiscount >= p.MaxDiscount {
		return fmt.Errorf("%w: start discount %d must be below max discount %d", ErrInvalidAuctionParams, p.StartDiscount, p.MaxDiscount)
	}
	if p.MaxDiscount >= HundredPercent {
		return fmt.Errorf("%w: max discount %d must be below 100%%", ErrInvalidAuctionParams, p.MaxDiscount)
	}
	if p.Duration == 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidAuctionParams)
	}
	return nil
}

// Holding is a single collateral balance of a position.
type Holding struct {
	Vault  VaultID
	Asset  common.Address
	Amount *big.Int
}

// Key returns the vault/asset pair of the holding.
func (h Holding) Key() VaultAsset {
	return VaultAsset{Vault: h.Vault, Asset: h.Asset}
}

// DebtRecord is the ledger view of a borrower's debt.
type DebtRecord struct {
	Debt          *big.Int
	Terms         DebtTerms
	InLiquidation bool
}

// Clone returns a deep copy of the record.
func (r *DebtRecord) Clone() *DebtRecord {
	if r == nil {
		return nil
	}
	clone := &DebtRecord{Terms: r.Terms, InLiquidation: r.InLiquidation}
	if r.Debt != nil {
		clone.Debt = new(big.Int).Set(r.Debt)
	}
	return clone
}

// Position is a read-only snapshot of a borrower assembled at the start of a
// call. The engine never mutates it; changes flow through the Tx.
type Position struct {
	Owner         common.Address
	Debt          *big.Int
	Terms         DebtTerms
	Holdings      []Holding
	InLiquidation bool
}

// LiquidationResult summarises a settled liquidation cascade.
type LiquidationResult struct {
	Owner              common.Address
	TargetRepay        *big.Int
	KeeperFee          *big.Int
	TotalFees          *big.Int
	Repaid             *big.Int
	UnpaidFees         *big.Int
	DidRestoreHealth   bool
	NumAuctionsStarted int
	Depleted           []common.Address
}

// DeleverageResult summarises a settled deleverage cascade.
type DeleverageResult struct {
	Owner             common.Address
	Caller            common.Address
	TargetRepay       *big.Int
	Repaid            *big.Int
	HasGoodDebtHealth bool
}
