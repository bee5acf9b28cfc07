package lending

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/core/events"
)

// cascade carries the state of one liquidation or deleverage call. Nothing in
// it outlives the call.
type cascade struct {
	cfg       *Config
	tx        Tx
	prices    *priceAdapter
	owner     common.Address
	processed *processedSet
	logger    *slog.Logger
	events    []events.Event

	// feeKeep is the share of disposed value (in basis points) credited as
	// repayment; the rest recovers liquidation and keeper fees.
	feeKeep   uint64
	remaining *big.Int
	credited  *big.Int
	repaid    *big.Int
	disposals map[StrategyKind]int
	auctions  int
}

func (c *cascade) emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *cascade) done() bool {
	return c.remaining.Sign() <= 0
}

// isReservePoolVault reports whether vault is the shared reserve pool or a
// configured special pool.
func (c *cascade) isReservePoolVault(vault VaultID) bool {
	if vault == c.cfg.General.ReservePoolVault {
		return true
	}
	for i := range c.cfg.Assets {
		if c.cfg.Assets[i].SpecialReservePool == vault {
			return true
		}
	}
	return false
}

// disposal is the outcome of one dispatched step.
type disposal struct {
	amount   *big.Int
	valueOut *big.Int
	credited *big.Int
	repaid   *big.Int
}

// liquidate runs the three phase waterfall and settles the position.
func (c *cascade) liquidate(keeper common.Address, wantsStaked bool) (*LiquidationResult, error) {
	rec, err := c.tx.DebtPosition(c.owner)
	if err != nil {
		return nil, fmt.Errorf("load debt: %w", err)
	}
	result := &LiquidationResult{
		Owner:       c.owner,
		TargetRepay: zero(),
		KeeperFee:   zero(),
		TotalFees:   zero(),
		Repaid:      zero(),
		UnpaidFees:  zero(),
	}
	if rec == nil || rec.Debt == nil || rec.Debt.Sign() <= 0 {
		return result, nil
	}
	holdings, err := c.tx.Holdings(c.owner)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	collateral, err := c.prices.collateralValue(holdings)
	if err != nil {
		return nil, err
	}
	target := ComputeTargetRepay(rec.Debt, collateral, rec.Terms, c.cfg.General)
	if target.Sign() == 0 {
		return result, nil
	}
	result.TargetRepay = target

	reward, err := c.quoteKeeperReward(rec.Debt)
	if err != nil {
		return nil, fmt.Errorf("quote keeper reward: %w", err)
	}
	liqFee := bpsOf(rec.Debt, rec.Terms.LiqFee, RoundUp)
	expectedFees := new(big.Int).Add(liqFee, reward.usd)
	feeRatio := mulDiv(expectedFees, basisPoints, rec.Debt, RoundUp)
	if feeRatio.Cmp(new(big.Int).SetUint64(HundredPercent-1)) > 0 {
		feeRatio.SetUint64(HundredPercent - 1)
	}
	c.feeKeep = HundredPercent - feeRatio.Uint64()
	c.remaining = mulDiv(target, basisPoints, new(big.Int).SetUint64(c.feeKeep), RoundUp)
	c.logger.Debug("liquidation target computed",
		slog.String("owner", c.owner.Hex()),
		slog.String("debt", rec.Debt.String()),
		slog.String("collateral", collateral.String()),
		slog.String("target", target.String()),
		slog.String("targetValueOut", c.remaining.String()),
		slog.String("expectedFees", expectedFees.String()))

	if err := c.ownReservesPhase(); err != nil {
		return nil, fmt.Errorf("own reserves phase: %w", err)
	}
	if err := c.priorityPhase(false); err != nil {
		return nil, fmt.Errorf("priority phase: %w", err)
	}
	if err := c.naturalPhase(holdings, false); err != nil {
		return nil, fmt.Errorf("natural order phase: %w", err)
	}

	repaid := minBig(c.repaid, rec.Debt)
	recovered := subFloor(c.credited, repaid)
	unpaid := subFloor(expectedFees, recovered)

	if err := c.payKeeper(keeper, reward, wantsStaked); err != nil {
		return nil, fmt.Errorf("pay keeper: %w", err)
	}

	remainingHoldings, err := c.tx.Holdings(c.owner)
	if err != nil {
		return nil, fmt.Errorf("reload holdings: %w", err)
	}
	postCollateral, err := c.prices.collateralValue(remainingHoldings)
	if err != nil {
		return nil, err
	}
	newDebt := new(big.Int).Sub(rec.Debt, repaid)
	newDebt.Add(newDebt, unpaid)
	restored := newDebt.Sign() == 0 || !isLiquidatable(newDebt, postCollateral, rec.Terms)
	if err := c.tx.ApplyLiquidation(c.owner, repaid, unpaid, !restored); err != nil {
		return nil, fmt.Errorf("apply liquidation: %w", err)
	}

	result.KeeperFee = reward.usd
	result.TotalFees = expectedFees
	result.Repaid = repaid
	result.UnpaidFees = unpaid
	result.DidRestoreHealth = restored
	result.NumAuctionsStarted = c.auctions
	result.Depleted = c.processed.depletedAssets()
	c.emit(events.PositionLiquidated{
		Owner:              c.owner,
		Keeper:             keeper,
		KeeperFee:          new(big.Int).Set(reward.usd),
		TotalFees:          new(big.Int).Set(expectedFees),
		RepaidAmount:       new(big.Int).Set(repaid),
		TargetRepayAmount:  new(big.Int).Set(target),
		DidRestoreHealth:   restored,
		NumAuctionsStarted: c.auctions,
	})
	return result, nil
}

// ownReservesPhase disposes of the owner's deposits inside the reserve pool,
// walking the reserve priority list.
func (c *cascade) ownReservesPhase() error {
	for _, entry := range c.cfg.ReservePriority {
		if c.done() {
			return nil
		}
		if c.processed.seen(entry) {
			continue
		}
		asset, err := c.cfg.Asset(entry.Asset)
		if err != nil {
			return err
		}
		if err := c.step(entry, asset.ownReserveStrategy()); err != nil {
			return err
		}
	}
	return nil
}

// priorityPhase walks the liquidation priority list. Deleverage runs the same
// walk restricted to treasury transfers.
func (c *cascade) priorityPhase(deleverage bool) error {
	for _, entry := range c.cfg.LiquidationPriority {
		if c.done() {
			return nil
		}
		if c.processed.seen(entry) {
			continue
		}
		if err := c.dispatch(entry, deleverage); err != nil {
			return err
		}
	}
	return nil
}

// naturalPhase walks the holdings snapshot in deposit order.
func (c *cascade) naturalPhase(holdings []Holding, deleverage bool) error {
	for _, h := range holdings {
		if c.done() {
			return nil
		}
		key := h.Key()
		if c.processed.seen(key) {
			continue
		}
		if err := c.dispatch(key, deleverage); err != nil {
			return err
		}
	}
	return nil
}

func (c *cascade) dispatch(key VaultAsset, deleverage bool) error {
	if deleverage {
		return c.deleverageStep(key)
	}
	asset, err := c.cfg.Asset(key.Asset)
	if err != nil {
		return err
	}
	strategy := asset.Strategy(c.cfg.General)
	if c.isReservePoolVault(key.Vault) {
		strategy = asset.ownReserveStrategy()
	}
	return c.step(key, strategy)
}

// step sizes and executes a single liquidation disposal. The amount taken is
// the remaining target in asset units, capped by the vault balance.
func (c *cascade) step(key VaultAsset, strategy DisposalStrategy) error {
	balance, err := c.tx.VaultBalance(c.owner, key.Vault, key.Asset)
	if err != nil {
		return err
	}
	if balance == nil || balance.Sign() <= 0 {
		return nil
	}
	needed, err := c.prices.AssetAmount(key.Asset, c.remaining, RoundUp)
	if err != nil {
		return err
	}
	take := minBig(needed, balance)
	if take.Sign() == 0 {
		return nil
	}
	fullyDepleted := take.Cmp(balance) == 0
	valueOut, err := c.prices.UsdValue(key.Asset, take, RoundDown)
	if err != nil {
		return err
	}
	if valueOut.Sign() == 0 {
		return fmt.Errorf("%w: %s disposal of %s valued at zero", ErrPriceUnavailable, key, take)
	}

	c.logger.Debug("disposing collateral",
		slog.String("owner", c.owner.Hex()),
		slog.String("pair", key.String()),
		slog.String("strategy", strategy.String()),
		slog.String("amount", take.String()),
		slog.String("value", valueOut.String()))

	var out disposal
	switch strategy.Kind {
	case StrategyBurn:
		out, err = c.burn(key, take, valueOut, fullyDepleted)
	case StrategyTreasury:
		out, err = c.toTreasury(key, take, valueOut, fullyDepleted)
	case StrategyReserveSwap:
		out, err = c.swap(key, take, valueOut, strategy)
	default:
		out, err = c.auction(key, take, valueOut)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", strategy, key, err)
	}
	c.disposals[strategy.Kind]++
	c.processed.mark(key, fullyDepleted)
	c.credited.Add(c.credited, out.credited)
	c.repaid.Add(c.repaid, out.repaid)
	if take.Cmp(needed) == 0 {
		c.remaining = zero()
	} else {
		c.remaining = subFloor(c.remaining, valueOut)
	}
	return nil
}

func (c *cascade) netOf(value *big.Int) *big.Int {
	return bpsOf(value, c.feeKeep, RoundDown)
}

func (c *cascade) burn(key VaultAsset, amount, value *big.Int, fullyDepleted bool) (disposal, error) {
	if err := c.tx.WithdrawFromVault(c.owner, key.Vault, key.Asset, amount); err != nil {
		return disposal{}, err
	}
	if err := c.tx.Burn(key.Asset, amount); err != nil {
		return disposal{}, err
	}
	c.emit(events.BurntAsRepayment{
		Owner:           c.owner,
		Vault:           uint64(key.Vault),
		Asset:           key.Asset,
		AmountBurned:    new(big.Int).Set(amount),
		UsdValue:        new(big.Int).Set(value),
		IsFullyDepleted: fullyDepleted,
	})
	return disposal{amount: amount, valueOut: value, credited: value, repaid: c.netOf(value)}, nil
}

func (c *cascade) toTreasury(key VaultAsset, amount, value *big.Int, fullyDepleted bool) (disposal, error) {
	if err := c.transferToTreasury(key, amount, value, fullyDepleted); err != nil {
		return disposal{}, err
	}
	return disposal{amount: amount, valueOut: value, credited: value, repaid: c.netOf(value)}, nil
}

func (c *cascade) transferToTreasury(key VaultAsset, amount, value *big.Int, fullyDepleted bool) error {
	if err := c.tx.WithdrawFromVault(c.owner, key.Vault, key.Asset, amount); err != nil {
		return err
	}
	if err := c.tx.Credit(c.cfg.General.Treasury, key.Asset, amount); err != nil {
		return err
	}
	c.emit(events.SentToTreasury{
		Owner:           c.owner,
		Vault:           uint64(key.Vault),
		Asset:           key.Asset,
		AmountSent:      new(big.Int).Set(amount),
		UsdValue:        new(big.Int).Set(value),
		IsFullyDepleted: fullyDepleted,
	})
	return nil
}

// auction escrows collateral into the auction house. Its value counts toward
// disposal progress but nothing is credited against debt yet.
func (c *cascade) auction(key VaultAsset, amount, value *big.Int) (disposal, error) {
	asset, err := c.cfg.Asset(key.Asset)
	if err != nil {
		return disposal{}, err
	}
	params := c.cfg.AuctionParamsFor(asset)
	if err := c.tx.WithdrawFromVault(c.owner, key.Vault, key.Asset, amount); err != nil {
		return disposal{}, err
	}
	id, err := c.tx.StartAuction(c.owner, key.Vault, key.Asset, amount, params)
	if err != nil {
		return disposal{}, err
	}
	c.auctions++
	c.emit(events.AuctionStarted{
		AuctionID:     id,
		Owner:         c.owner,
		Vault:         uint64(key.Vault),
		Asset:         key.Asset,
		Amount:        new(big.Int).Set(amount),
		StartDiscount: params.StartDiscount,
		MaxDiscount:   params.MaxDiscount,
		Delay:         params.Delay,
		Duration:      params.Duration,
	})
	return disposal{amount: amount, valueOut: value, credited: zero(), repaid: zero()}, nil
}

// reserveAssets lists the pool assets a swap may draw from.
func (c *cascade) reserveAssets(strategy DisposalStrategy) ([]common.Address, error) {
	if strategy.Special {
		return c.tx.PoolAssets(strategy.Pool)
	}
	out := make([]common.Address, 0, len(c.cfg.ReservePriority))
	for _, entry := range c.cfg.ReservePriority {
		if entry.Vault == strategy.Pool {
			out = append(out, entry.Asset)
		}
	}
	return out, nil
}

// swap moves collateral into the reserve pool in exchange for reserve assets
// released pro-rata from its depositors. The reserve leg is burned when the
// reserve asset repays at face, otherwise it goes to the treasury. Collateral
// the pool cannot absorb is auctioned.
func (c *cascade) swap(key VaultAsset, amount, value *big.Int, strategy DisposalStrategy) (disposal, error) {
	reserves, err := c.reserveAssets(strategy)
	if err != nil {
		return disposal{}, err
	}
	out := disposal{amount: amount, valueOut: value, credited: zero(), repaid: zero()}
	leftAmount := new(big.Int).Set(amount)
	leftValue := new(big.Int).Set(value)

	for _, reserveAsset := range reserves {
		if leftAmount.Sign() == 0 {
			break
		}
		if reserveAsset == key.Asset {
			continue
		}
		available, err := c.tx.PoolReserve(strategy.Pool, reserveAsset)
		if err != nil {
			return disposal{}, err
		}
		if available == nil || available.Sign() == 0 {
			continue
		}
		payValue := c.netOf(leftValue)
		reserveOut, err := c.prices.AssetAmount(reserveAsset, payValue, RoundUp)
		if err != nil {
			return disposal{}, err
		}
		collateralIn := new(big.Int).Set(leftAmount)
		collateralValueIn := new(big.Int).Set(leftValue)
		if reserveOut.Cmp(available) > 0 {
			reserveOut = new(big.Int).Set(available)
			availableValue, err := c.prices.UsdValue(reserveAsset, available, RoundDown)
			if err != nil {
				return disposal{}, err
			}
			collateralValueIn = minBig(mulDiv(availableValue, basisPoints, new(big.Int).SetUint64(c.feeKeep), RoundUp), leftValue)
			collateralIn, err = c.prices.AssetAmount(key.Asset, collateralValueIn, RoundUp)
			if err != nil {
				return disposal{}, err
			}
			collateralIn = minBig(collateralIn, leftAmount)
		}
		if reserveOut.Sign() == 0 || collateralIn.Sign() == 0 {
			continue
		}
		reserveValue, err := c.prices.UsdValue(reserveAsset, reserveOut, RoundDown)
		if err != nil {
			return disposal{}, err
		}
		if err := c.swapLeg(key, strategy.Pool, reserveAsset, collateralIn, reserveOut); err != nil {
			return disposal{}, err
		}
		c.emit(events.ReserveSwap{
			Owner:               c.owner,
			Vault:               uint64(key.Vault),
			LiqAsset:            key.Asset,
			ReserveAsset:        reserveAsset,
			ReserveVault:        uint64(strategy.Pool),
			AmountSwapped:       new(big.Int).Set(reserveOut),
			ValueSwapped:        new(big.Int).Set(reserveValue),
			CollateralAmountOut: new(big.Int).Set(collateralIn),
			CollateralValueOut:  new(big.Int).Set(collateralValueIn),
		})
		out.credited.Add(out.credited, collateralValueIn)
		out.repaid.Add(out.repaid, reserveValue)
		leftAmount.Sub(leftAmount, collateralIn)
		leftValue = subFloor(leftValue, collateralValueIn)
	}

	if leftAmount.Sign() > 0 {
		c.logger.Info("reserve pool exhausted, auctioning leftover",
			slog.String("owner", c.owner.Hex()),
			slog.String("pair", key.String()),
			slog.String("amount", leftAmount.String()))
		leftValue, err := c.prices.UsdValue(key.Asset, leftAmount, RoundDown)
		if err != nil {
			return disposal{}, err
		}
		if _, err := c.auction(key, leftAmount, leftValue); err != nil {
			return disposal{}, err
		}
	}
	return out, nil
}

func (c *cascade) swapLeg(key VaultAsset, pool VaultID, reserveAsset common.Address, collateralIn, reserveOut *big.Int) error {
	if err := c.tx.WithdrawFromVault(c.owner, key.Vault, key.Asset, collateralIn); err != nil {
		return err
	}
	if err := c.tx.AbsorbCollateral(pool, key.Asset, collateralIn); err != nil {
		return err
	}
	if err := c.tx.ReleaseReserve(pool, reserveAsset, reserveOut); err != nil {
		return err
	}
	reserveCfg, err := c.cfg.Asset(reserveAsset)
	if err != nil {
		return err
	}
	if reserveCfg.ShouldBurnAsPayment {
		return c.tx.Burn(reserveAsset, reserveOut)
	}
	return c.tx.Credit(c.cfg.General.Treasury, reserveAsset, reserveOut)
}
