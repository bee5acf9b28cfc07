package lending

import "math/big"

// EffectiveTargetLtv returns the buffered LTV a liquidation aims for.
func EffectiveTargetLtv(terms DebtTerms, general GeneralConfig) uint64 {
	buffer := general.LtvPaybackBuffer
	if buffer > HundredPercent {
		buffer = HundredPercent
	}
	return terms.LTV * (HundredPercent - buffer) / HundredPercent
}

// ComputeTargetRepay returns the USD debt that must be removed to bring the
// position back to its buffered target LTV. Positions below their liquidation
// threshold, without debt or without collateral return zero. The result is
// rounded up.
func ComputeTargetRepay(debt, collateralValue *big.Int, terms DebtTerms, general GeneralConfig) *big.Int {
	if debt == nil || collateralValue == nil || debt.Sign() <= 0 || collateralValue.Sign() <= 0 {
		return zero()
	}
	if !isLiquidatable(debt, collateralValue, terms) {
		return zero()
	}
	allowed := bpsOf(collateralValue, EffectiveTargetLtv(terms, general), RoundDown)
	return subFloor(debt, allowed)
}

// isLiquidatable reports whether debt / collateral has reached the
// liquidation threshold.
func isLiquidatable(debt, collateralValue *big.Int, terms DebtTerms) bool {
	lhs := new(big.Int).Mul(debt, basisPoints)
	rhs := new(big.Int).Mul(collateralValue, new(big.Int).SetUint64(terms.LiqThreshold))
	return lhs.Cmp(rhs) >= 0
}

// hasGoodDebtHealth reports whether debt sits at or below the ltv of terms.
func hasGoodDebtHealth(debt, collateralValue *big.Int, terms DebtTerms) bool {
	if debt == nil || debt.Sign() <= 0 {
		return true
	}
	lhs := new(big.Int).Mul(debt, basisPoints)
	rhs := new(big.Int).Mul(cloneOrZero(collateralValue), new(big.Int).SetUint64(terms.LTV))
	return lhs.Cmp(rhs) <= 0
}
