package lending

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/core/events"
)

// shareRateGuardBps bounds how far the optimistic share rate may exceed the
// safe rate before it is clamped.
const shareRateGuardBps uint64 = 100

// deleverage repays debt with collateral sent to the treasury. There is no
// liquidation fee, keeper fee, burn, swap or auction on this path.
func (c *cascade) deleverage(caller common.Address, requested *big.Int) (*DeleverageResult, error) {
	result := &DeleverageResult{
		Owner:       c.owner,
		Caller:      caller,
		TargetRepay: zero(),
		Repaid:      zero(),
	}
	rec, err := c.tx.DebtPosition(c.owner)
	if err != nil {
		return nil, fmt.Errorf("load debt: %w", err)
	}
	if rec == nil || rec.Debt == nil || rec.Debt.Sign() <= 0 {
		result.HasGoodDebtHealth = true
		return result, nil
	}
	holdings, err := c.tx.Holdings(c.owner)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	var target *big.Int
	if requested == nil {
		collateral, err := c.prices.collateralValue(holdings)
		if err != nil {
			return nil, err
		}
		target = ComputeTargetRepay(rec.Debt, collateral, rec.Terms, c.cfg.General)
	} else {
		target = minBig(requested, rec.Debt)
	}
	if target.Sign() <= 0 {
		return result, nil
	}
	result.TargetRepay = target
	c.feeKeep = HundredPercent
	c.remaining = new(big.Int).Set(target)

	if err := c.priorityPhase(true); err != nil {
		return nil, fmt.Errorf("priority phase: %w", err)
	}
	if err := c.naturalPhase(holdings, true); err != nil {
		return nil, fmt.Errorf("natural order phase: %w", err)
	}

	repaid := minBig(c.repaid, rec.Debt)
	if repaid.Sign() > 0 {
		if err := c.tx.ApplyRepayment(c.owner, repaid); err != nil {
			return nil, fmt.Errorf("apply repayment: %w", err)
		}
	}
	remainingHoldings, err := c.tx.Holdings(c.owner)
	if err != nil {
		return nil, fmt.Errorf("reload holdings: %w", err)
	}
	postCollateral, err := c.prices.collateralValue(remainingHoldings)
	if err != nil {
		return nil, err
	}
	healthy := hasGoodDebtHealth(new(big.Int).Sub(rec.Debt, repaid), postCollateral, rec.Terms)

	result.Repaid = repaid
	result.HasGoodDebtHealth = healthy
	c.emit(events.PositionDeleveraged{
		Owner:             c.owner,
		Caller:            caller,
		TargetRepayAmount: new(big.Int).Set(target),
		RepaidAmount:      new(big.Int).Set(repaid),
		HasGoodDebtHealth: healthy,
	})
	return result, nil
}

// effectiveShareRate returns the underlying amount one whole share is worth
// for deleverage sizing. The optimistic rate is clamped to the safe rate plus
// the guard band; a zero safe rate leaves the optimistic rate untouched.
func (c *cascade) effectiveShareRate(asset *AssetConfig) (*big.Int, error) {
	unit := pow10(asset.Decimals)
	optimistic, err := c.prices.toUnderlyingOptimistic(asset.Asset, unit)
	if err != nil {
		return nil, err
	}
	safe, err := c.prices.toUnderlyingSafe(asset.Asset, unit)
	if err != nil {
		return nil, err
	}
	if safe.Sign() == 0 {
		return optimistic, nil
	}
	ceiling := bpsOf(safe, HundredPercent+shareRateGuardBps, RoundDown)
	if optimistic.Cmp(ceiling) > 0 {
		c.logger.Debug("clamping optimistic share rate",
			slog.String("asset", asset.Asset.Hex()),
			slog.String("optimistic", optimistic.String()),
			slog.String("safe", safe.String()),
			slog.String("clamped", ceiling.String()))
		return ceiling, nil
	}
	return optimistic, nil
}

// sizeDeleverage returns how many units of the held asset to transfer and the
// USD credit they earn, both bounded by the remaining target.
func (c *cascade) sizeDeleverage(asset *AssetConfig, balance *big.Int) (take, credit *big.Int, exact bool, err error) {
	if !asset.IsWrapper() {
		needed, err := c.prices.AssetAmount(asset.Asset, c.remaining, RoundUp)
		if err != nil {
			return nil, nil, false, err
		}
		take = minBig(needed, balance)
		value, err := c.prices.UsdValue(asset.Asset, take, RoundDown)
		if err != nil {
			return nil, nil, false, err
		}
		return take, minBig(value, c.remaining), take.Cmp(needed) == 0, nil
	}

	rate, err := c.effectiveShareRate(asset)
	if err != nil {
		return nil, nil, false, err
	}
	if rate.Sign() == 0 {
		return nil, nil, false, fmt.Errorf("%w: %s share rate is zero", ErrPriceUnavailable, asset.Asset.Hex())
	}
	unit := pow10(asset.Decimals)
	underlyingNeeded, err := c.prices.AssetAmount(asset.Underlying, c.remaining, RoundUp)
	if err != nil {
		return nil, nil, false, err
	}
	needed := mulDiv(underlyingNeeded, unit, rate, RoundUp)
	take = minBig(needed, balance)
	underlyingOut := mulDiv(take, rate, unit, RoundDown)
	value, err := c.prices.UsdValue(asset.Underlying, underlyingOut, RoundDown)
	if err != nil {
		return nil, nil, false, err
	}
	return take, minBig(value, c.remaining), take.Cmp(needed) == 0, nil
}

func (c *cascade) deleverageStep(key VaultAsset) error {
	balance, err := c.tx.VaultBalance(c.owner, key.Vault, key.Asset)
	if err != nil {
		return err
	}
	if balance == nil || balance.Sign() <= 0 {
		return nil
	}
	asset, err := c.cfg.Asset(key.Asset)
	if err != nil {
		return err
	}
	take, credit, exact, err := c.sizeDeleverage(asset, balance)
	if err != nil {
		return err
	}
	if take.Sign() == 0 {
		return nil
	}
	if credit.Sign() == 0 {
		return fmt.Errorf("%w: %s deleverage of %s valued at zero", ErrPriceUnavailable, key, take)
	}
	fullyDepleted := take.Cmp(balance) == 0
	if err := c.transferToTreasury(key, take, credit, fullyDepleted); err != nil {
		return fmt.Errorf("treasury %s: %w", key, err)
	}
	c.disposals[StrategyTreasury]++
	c.processed.mark(key, fullyDepleted)
	c.credited.Add(c.credited, credit)
	c.repaid.Add(c.repaid, credit)
	if exact {
		c.remaining = zero()
	} else {
		c.remaining = subFloor(c.remaining, credit)
	}
	return nil
}
