package lending_test

import (
	"context"
	"math/big"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/core/events"
	"ripecore/core/state"
	nativecommon "ripecore/native/common"
	"ripecore/native/lending"
)

// underwater seeds owner with 200 weth against 100 of debt and drops the weth
// price to 0.625, leaving 125 of collateral at an 80% ltv.
func (h *harness) underwater(owner common.Address) {
	h.t.Helper()
	h.deposit(owner, userVault, weth, e18(200))
	h.borrow(owner, e18(100))
	h.price(weth, frac(5, 8))
}

func TestLiquidateSendsCollateralToTreasury(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.underwater(alice)

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)

	expectBig(t, frac(75, 2), result.TargetRepay, "target repay")
	expectBig(t, frac(75, 2), result.Repaid, "repaid")
	expectBig(t, e18(10), result.TotalFees, "total fees")
	expectBig(t, mustBig(t, "5833333333333333333"), result.UnpaidFees, "unpaid fees")
	if result.DidRestoreHealth {
		t.Fatalf("position should stay above the liquidation target")
	}
	if len(result.Depleted) != 0 {
		t.Fatalf("nothing should be depleted, got %v", result.Depleted)
	}

	taken := mustBig(t, "66666666666666666668")
	expectBig(t, taken, h.balance(treasury, weth), "treasury weth")
	expectBig(t, new(big.Int).Sub(e18(200), taken), h.vaultBalance(alice, userVault, weth), "vault weth")

	rec := h.debt(alice)
	expectBig(t, mustBig(t, "68333333333333333333"), rec.Debt, "debt")
	if !rec.InLiquidation {
		t.Fatalf("position should remain in liquidation")
	}

	// debt after = debt before - repaid + unpaid fees
	want := new(big.Int).Sub(e18(100), result.Repaid)
	want.Add(want, result.UnpaidFees)
	expectBig(t, want, rec.Debt, "debt accounting")

	// post-repay principal sits exactly at ltv x pre-liquidation collateral
	principal := new(big.Int).Sub(e18(100), result.Repaid)
	expectBig(t, frac(125, 2), principal, "principal at target ltv")

	h.expectEvents(events.TypeSentToTreasury, events.TypePositionLiquidated)
	sent := h.recorder.Events()[0].(events.SentToTreasury)
	expectBig(t, taken, sent.AmountSent, "event amount")
	expectBig(t, mustBig(t, "41666666666666666667"), sent.UsdValue, "event value")
	if sent.IsFullyDepleted {
		t.Fatalf("weth was only partially taken")
	}
}

func TestLiquidateDrainsOwnReservesInPriorityOrder(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, poolVault, stable, e18(50))
	h.deposit(alice, poolVault, green, e18(50))
	h.borrow(alice, e18(104))
	h.price(green, e18(1))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, e18(54), result.TargetRepay, "target")
	expectBig(t, e18(54), result.Repaid, "repaid")
	if !slices.Equal(result.Depleted, []common.Address{stable}) {
		t.Fatalf("expected stable depleted, got %v", result.Depleted)
	}

	h.expectEvents(events.TypeBurntAsRepayment, events.TypeSentToTreasury, events.TypePositionLiquidated)
	recorded := h.recorder.Events()
	burnt := recorded[0].(events.BurntAsRepayment)
	if burnt.Asset != stable || !burnt.IsFullyDepleted {
		t.Fatalf("unexpected burn event %+v", burnt)
	}
	expectBig(t, e18(50), burnt.AmountBurned, "burned amount")
	sent := recorded[1].(events.SentToTreasury)
	if sent.Asset != green || sent.IsFullyDepleted {
		t.Fatalf("unexpected treasury event %+v", sent)
	}
	expectBig(t, e18(10), sent.AmountSent, "sent amount")

	expectBig(t, e18(50), h.burned(stable), "stable burned")
	expectBig(t, e18(10), h.balance(treasury, green), "treasury green")
	expectBig(t, e18(40), h.vaultBalance(alice, poolVault, green), "remaining green")
	expectBig(t, big.NewInt(0), h.vaultBalance(alice, poolVault, stable), "remaining stable")
}

func TestLiquidateSwapsIntoReservePool(t *testing.T) {
	cfg := baseConfig()
	wethCfg := assetConfig(t, cfg, weth)
	wethCfg.ShouldTransferToTreasury = false
	wethCfg.ShouldSwapInReservePool = true
	h := newHarness(t, cfg)
	h.deposit(bob, poolVault, stable, e18(30))
	h.deposit(carol, poolVault, stable, e18(10))
	h.deposit(alice, userVault, weth, e18(100))
	h.borrow(alice, e18(90))
	h.price(weth, e18(1))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, e18(40), result.TargetRepay, "target")
	expectBig(t, e18(40), result.Repaid, "repaid")
	if result.NumAuctionsStarted != 0 {
		t.Fatalf("no auction expected, got %d", result.NumAuctionsStarted)
	}

	h.expectEvents(events.TypeReserveSwap, events.TypePositionLiquidated)
	swap := h.recorder.Events()[0].(events.ReserveSwap)
	if swap.LiqAsset != weth || swap.ReserveAsset != stable || swap.ReserveVault != uint64(poolVault) {
		t.Fatalf("unexpected swap event %+v", swap)
	}
	expectBig(t, e18(40), swap.AmountSwapped, "reserve out")
	collateralIn := mustBig(t, "44444444444444444445")
	expectBig(t, collateralIn, swap.CollateralAmountOut, "collateral in")

	expectBig(t, e18(40), h.burned(stable), "stable burned")
	expectBig(t, big.NewInt(0), h.vaultBalance(bob, poolVault, stable), "bob reserve")
	expectBig(t, big.NewInt(0), h.vaultBalance(carol, poolVault, stable), "carol reserve")
	expectBig(t, new(big.Int).Sub(e18(100), collateralIn), h.vaultBalance(alice, userVault, weth), "alice weth")
	h.view(func(txn *state.Txn) {
		claims, err := txn.PoolClaims(poolVault, weth)
		mustSucceed(t, err)
		expectBig(t, collateralIn, claims, "pool claims")
	})

	expectBig(t, mustBig(t, "54555555555555555555"), h.debt(alice).Debt, "debt")
}

func TestLiquidateSwapFallsBackToAuction(t *testing.T) {
	cfg := baseConfig()
	wethCfg := assetConfig(t, cfg, weth)
	wethCfg.ShouldTransferToTreasury = false
	wethCfg.ShouldSwapInReservePool = true
	h := newHarness(t, cfg)
	h.deposit(bob, poolVault, stable, e18(20))
	h.deposit(alice, userVault, weth, e18(100))
	h.borrow(alice, e18(90))
	h.price(weth, e18(1))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, e18(20), result.Repaid, "repaid")
	if result.NumAuctionsStarted != 1 {
		t.Fatalf("expected one auction, got %d", result.NumAuctionsStarted)
	}
	h.expectEvents(events.TypeReserveSwap, events.TypeAuctionStarted, events.TypePositionLiquidated)

	swap := h.recorder.Events()[0].(events.ReserveSwap)
	expectBig(t, e18(20), swap.AmountSwapped, "reserve out")
	expectBig(t, mustBig(t, "22222222222222222223"), swap.CollateralAmountOut, "collateral swapped")
	started := h.recorder.Events()[1].(events.AuctionStarted)
	leftover := mustBig(t, "22222222222222222222")
	expectBig(t, leftover, started.Amount, "auctioned")

	h.view(func(txn *state.Txn) {
		auction, err := txn.Auction(started.AuctionID)
		mustSucceed(t, err)
		if auction == nil {
			t.Fatalf("auction %d not escrowed", started.AuctionID)
		}
		expectBig(t, leftover, auction.Amount, "escrowed")
		if auction.Owner != alice || auction.Delay != 60 {
			t.Fatalf("unexpected auction %+v", auction)
		}
	})
	// 100 - 22.22..3 swapped - 22.22..2 auctioned
	expectBig(t, mustBig(t, "55555555555555555555"), h.vaultBalance(alice, userVault, weth), "alice weth")
	expectBig(t, mustBig(t, "76777777777777777777"), h.debt(alice).Debt, "debt")
}

func TestLiquidateSwapsIntoSpecialReservePool(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(bob, specialVault, green, e18(100))
	h.deposit(alice, userVault, link, e18(100))
	h.borrow(alice, e18(90))
	h.price(link, e18(1))
	h.price(green, e18(1))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, e18(40), result.Repaid, "repaid")

	h.expectEvents(events.TypeReserveSwap, events.TypePositionLiquidated)
	swap := h.recorder.Events()[0].(events.ReserveSwap)
	if swap.ReserveVault != uint64(specialVault) || swap.ReserveAsset != green {
		t.Fatalf("unexpected swap event %+v", swap)
	}

	expectBig(t, e18(40), h.balance(treasury, green), "treasury green")
	expectBig(t, e18(60), h.vaultBalance(bob, specialVault, green), "bob green")
	expectBig(t, big.NewInt(0), h.burned(green), "green burned")
}

func TestLiquidateAuctionsAssetsWithoutRepaymentFlags(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, userVault, wbtc, big.NewInt(200_000)) // 0.002 btc
	h.borrow(alice, e18(90))
	h.price(wbtc, e18(50_000))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, e18(40), result.TargetRepay, "target")
	expectBig(t, big.NewInt(0), result.Repaid, "repaid")
	expectBig(t, e18(9), result.UnpaidFees, "unpaid")
	if result.NumAuctionsStarted != 1 {
		t.Fatalf("expected one auction, got %d", result.NumAuctionsStarted)
	}

	h.expectEvents(events.TypeAuctionStarted, events.TypePositionLiquidated)
	started := h.recorder.Events()[0].(events.AuctionStarted)
	expectBig(t, big.NewInt(88_889), started.Amount, "auctioned sats")
	if started.Delay != 60 {
		t.Fatalf("expected default delay, got %d", started.Delay)
	}

	rec := h.debt(alice)
	expectBig(t, e18(99), rec.Debt, "debt")
	if !rec.InLiquidation {
		t.Fatalf("auctioned position should remain in liquidation")
	}
}

func TestLiquidateAuctionInstantlySkipsDelay(t *testing.T) {
	cfg := baseConfig()
	assetConfig(t, cfg, wbtc).ShouldAuctionInstantly = true
	h := newHarness(t, cfg)
	h.deposit(alice, userVault, wbtc, big.NewInt(200_000))
	h.borrow(alice, e18(90))
	h.price(wbtc, e18(50_000))

	_, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	started := h.recorder.Events()[0].(events.AuctionStarted)
	if started.Delay != 0 || started.Duration != 3_600 {
		t.Fatalf("unexpected auction timing delay=%d duration=%d", started.Delay, started.Duration)
	}
}

func TestLiquidationNeverDisposesOfAPairTwice(t *testing.T) {
	cfg := baseConfig()
	cfg.LiquidationPriority = lending.PriorityList{{Vault: userVault, Asset: weth}}
	h := newHarness(t, cfg)
	h.deposit(alice, userVault, weth, e18(10))
	h.deposit(alice, otherVault, weth, e18(100))
	h.borrow(alice, e18(90))
	h.price(weth, e18(1))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, e18(35), result.Repaid, "repaid")
	if !slices.Equal(result.Depleted, []common.Address{weth}) {
		t.Fatalf("expected weth depleted, got %v", result.Depleted)
	}

	h.expectPairs(
		lending.VaultAsset{Vault: userVault, Asset: weth},
		lending.VaultAsset{Vault: otherVault, Asset: weth},
	)

	// every unit that left the vaults reached the treasury
	left := new(big.Int).Sub(e18(110), h.vaultBalance(alice, otherVault, weth))
	expectBig(t, left, h.balance(treasury, weth), "conservation")
}

func TestLiquidationPriorityListOrdersDisposals(t *testing.T) {
	cfg := baseConfig()
	cfg.LiquidationPriority = lending.PriorityList{
		{Vault: otherVault, Asset: green},
		{Vault: userVault, Asset: weth},
	}
	h := newHarness(t, cfg)
	h.deposit(alice, userVault, weth, e18(200))
	h.deposit(alice, otherVault, green, e18(10))
	h.borrow(alice, e18(110))
	h.price(weth, frac(5, 8))
	h.price(green, e18(1))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	if result.Repaid.Sign() <= 0 {
		t.Fatalf("expected a repayment, got %s", result.Repaid)
	}

	// green is listed first and is too small to cover the target, so all of
	// it goes before any weth is touched.
	h.expectPairs(
		lending.VaultAsset{Vault: otherVault, Asset: green},
		lending.VaultAsset{Vault: userVault, Asset: weth},
	)
	first := h.recorder.Events()[0].(events.SentToTreasury)
	if first.Asset != green || !first.IsFullyDepleted {
		t.Fatalf("expected green fully depleted first, got %+v", first)
	}
	expectBig(t, e18(10), first.AmountSent, "green sent")
	expectBig(t, big.NewInt(0), h.vaultBalance(alice, otherVault, green), "green left")
	expectBig(t, e18(10), h.balance(treasury, green), "treasury green")

	second := h.recorder.Events()[1].(events.SentToTreasury)
	if second.Asset != weth || second.IsFullyDepleted {
		t.Fatalf("expected a partial weth disposal second, got %+v", second)
	}
	expectBig(t, new(big.Int).Sub(e18(200), second.AmountSent), h.vaultBalance(alice, userVault, weth), "weth left")
	expectBig(t, second.AmountSent, h.balance(treasury, weth), "treasury weth")
}

func TestLiquidationIsIdempotentOnceHealthy(t *testing.T) {
	cfg := baseConfig()
	cfg.General.LtvPaybackBuffer = 50_00
	h := newHarness(t, cfg)
	h.underwater(alice)

	first, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, frac(275, 4), first.TargetRepay, "first target")
	expectBig(t, frac(275, 4), first.Repaid, "first repaid")
	if !first.DidRestoreHealth {
		t.Fatalf("buffered liquidation should restore health")
	}
	rec := h.debt(alice)
	expectBig(t, mustBig(t, "33611111111111111111"), rec.Debt, "debt")
	if rec.InLiquidation {
		t.Fatalf("restored position should leave liquidation")
	}

	emitted := len(h.recorder.Events())
	second, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	if second.TargetRepay.Sign() != 0 || second.Repaid.Sign() != 0 {
		t.Fatalf("second liquidation should be a no-op, got %+v", second)
	}
	if got := len(h.recorder.Events()); got != emitted {
		t.Fatalf("second liquidation emitted %d events", got-emitted)
	}
	expectBig(t, rec.Debt, h.debt(alice).Debt, "debt unchanged")
}

func TestLiquidateHealthyPositionIsNoop(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, userVault, weth, e18(200))
	h.borrow(alice, e18(100))
	h.price(weth, e18(1))

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	if result.TargetRepay.Sign() != 0 {
		t.Fatalf("healthy position has target %s", result.TargetRepay)
	}
	h.expectEvents()
	expectBig(t, e18(200), h.vaultBalance(alice, userVault, weth), "untouched")

	fee, err := h.engine.LiquidatePosition(h.ctx, keeper, bob, false)
	mustSucceed(t, err)
	if fee.Sign() != 0 {
		t.Fatalf("position without debt paid fee %s", fee)
	}
}

func TestLiquidateAbortsOnStalePrice(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, userVault, weth, e18(200))
	h.borrow(alice, e18(100))
	if err := h.feed.Publish(weth, frac(5, 8), harnessNow.Add(-2*time.Hour)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	expectErrorIs(t, err, lending.ErrPriceUnavailable)
	if !strings.Contains(err.Error(), "stale") {
		t.Fatalf("error should report staleness: %v", err)
	}
	h.expectEvents()
	expectBig(t, e18(200), h.vaultBalance(alice, userVault, weth), "collateral")
	expectBig(t, e18(100), h.debt(alice).Debt, "debt")
}

func TestKeeperRewardPaidIntoStake(t *testing.T) {
	cfg := baseConfig()
	cfg.General.KeeperFeeRatio = 1_00
	cfg.General.MinKeeperFee = e18(2)
	h := newHarness(t, cfg)
	h.underwater(alice)
	h.price(ripe, frac(1, 2))
	h.seed(func(txn *state.Txn) error { return txn.FundRewards(ripe, e18(10)) })

	fee, err := h.engine.LiquidatePosition(h.ctx, keeper, alice, true)
	mustSucceed(t, err)
	expectBig(t, e18(2), fee, "keeper fee")

	h.view(func(txn *state.Txn) {
		staked, err := txn.StakedRewards(keeper, ripe)
		mustSucceed(t, err)
		expectBig(t, e18(4), staked, "staked reward")
		budget, err := txn.RewardBudget(ripe)
		mustSucceed(t, err)
		expectBig(t, e18(6), budget, "budget")
	})
	expectBig(t, big.NewInt(0), h.balance(keeper, ripe), "liquid reward")

	types := h.eventTypes()
	if types[len(types)-2] != events.TypeKeeperRewarded || types[len(types)-1] != events.TypePositionLiquidated {
		t.Fatalf("unexpected trailing events %v", types)
	}
	settled := h.recorder.Events()[len(types)-1].(events.PositionLiquidated)
	expectBig(t, e18(12), settled.TotalFees, "total fees")
}

func TestKeeperFeeCappedByRewardBudget(t *testing.T) {
	cfg := baseConfig()
	cfg.General.MinKeeperFee = e18(2)
	h := newHarness(t, cfg)
	h.underwater(alice)
	h.price(ripe, frac(1, 2))
	h.seed(func(txn *state.Txn) error { return txn.FundRewards(ripe, e18(2)) })

	fee, err := h.engine.LiquidatePosition(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	expectBig(t, e18(1), fee, "capped fee")
	expectBig(t, e18(2), h.balance(keeper, ripe), "liquid reward")
}

func TestKeeperFeeSkippedWhenRewardTokenUnpriced(t *testing.T) {
	cfg := baseConfig()
	cfg.General.MinKeeperFee = e18(2)
	h := newHarness(t, cfg)
	h.underwater(alice)
	h.seed(func(txn *state.Txn) error { return txn.FundRewards(ripe, e18(10)) })

	result, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
	if result.KeeperFee.Sign() != 0 {
		t.Fatalf("unpriced reward token paid fee %s", result.KeeperFee)
	}
	expectBig(t, frac(75, 2), result.Repaid, "repaid")
	if slices.Contains(h.eventTypes(), events.TypeKeeperRewarded) {
		t.Fatalf("no keeper reward event expected")
	}
}

func TestLiquidateManyIsolatesFailures(t *testing.T) {
	cfg := baseConfig()
	cfg.General.MinKeeperFee = e18(1)
	h := newHarness(t, cfg)
	h.price(ripe, e18(1))
	h.seed(func(txn *state.Txn) error { return txn.FundRewards(ripe, e18(100)) })
	h.underwater(alice)
	h.underwater(carol)
	h.deposit(bob, userVault, wbtc, big.NewInt(100_000_000))
	h.borrow(bob, e18(90))

	total, err := h.engine.LiquidateManyPositions(h.ctx, keeper, []common.Address{alice, bob, carol}, false)
	expectErrorIs(t, err, lending.ErrPriceUnavailable)
	if !strings.Contains(err.Error(), bob.Hex()) {
		t.Fatalf("error should name the failing owner: %v", err)
	}
	expectBig(t, e18(2), total, "keeper total")

	// the 1 usd keeper fee lifts the fee ratio to 11%
	settled := mustBig(t, "68865168539325842696")
	expectBig(t, settled, h.debt(alice).Debt, "alice debt")
	expectBig(t, settled, h.debt(carol).Debt, "carol debt")
	expectBig(t, e18(90), h.debt(bob).Debt, "bob debt")
	expectBig(t, big.NewInt(100_000_000), h.vaultBalance(bob, userVault, wbtc), "bob collateral")
	expectBig(t, e18(2), h.balance(keeper, ripe), "keeper paid twice")
}

func TestLiquidationRollsBackOnMidCascadeFailure(t *testing.T) {
	cfg := baseConfig()
	wethCfg := assetConfig(t, cfg, weth)
	wethCfg.ShouldTransferToTreasury = false
	wethCfg.ShouldSwapInReservePool = true
	h := newHarness(t, cfg)
	h.deposit(bob, poolVault, green, e18(100))
	h.deposit(alice, poolVault, stable, e18(5))
	h.deposit(alice, userVault, weth, e18(100))
	h.borrow(alice, e18(90))
	h.price(weth, e18(1))
	// green is never priced, so the swap leg fails after the stable burn

	_, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	expectErrorIs(t, err, lending.ErrPriceUnavailable)
	h.expectEvents()
	expectBig(t, big.NewInt(0), h.burned(stable), "burn rolled back")
	expectBig(t, e18(5), h.vaultBalance(alice, poolVault, stable), "alice stable")
	expectBig(t, e18(100), h.vaultBalance(alice, userVault, weth), "alice weth")
	expectBig(t, e18(90), h.debt(alice).Debt, "debt")
}

func TestInvalidConfigurationHaltsCalls(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, cfg *lending.Config)
		want   error
	}{
		{
			name: "debt terms",
			mutate: func(t *testing.T, cfg *lending.Config) {
				assetConfig(t, cfg, weth).Terms.LiqThreshold = 40_00
			},
			want: lending.ErrInvalidDebtTerms,
		},
		{
			name: "auction params",
			mutate: func(t *testing.T, cfg *lending.Config) {
				cfg.General.DefaultAuction.StartDiscount = cfg.General.DefaultAuction.MaxDiscount
			},
			want: lending.ErrInvalidAuctionParams,
		},
		{
			name: "swap without ltv",
			mutate: func(t *testing.T, cfg *lending.Config) {
				greenCfg := assetConfig(t, cfg, green)
				greenCfg.ShouldTransferToTreasury = false
				greenCfg.ShouldSwapInReservePool = true
			},
			want: lending.ErrSwapAssetWithoutLTV,
		},
		{
			name: "reward token not configured",
			mutate: func(t *testing.T, cfg *lending.Config) {
				cfg.General.RewardToken = common.HexToAddress("0x00000000000000000000000000000000000000dd")
				cfg.General.MinKeeperFee = e18(2)
			},
			want: lending.ErrAssetNotConfigured,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(t, cfg)
			h := newHarness(t, cfg)
			h.underwater(alice)

			_, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
			expectErrorIs(t, err, tc.want)
			_, err = h.engine.LiquidateManyPositions(h.ctx, keeper, []common.Address{alice}, false)
			expectErrorIs(t, err, tc.want)
			_, err = h.engine.Deleverage(h.ctx, alice, alice, e18(1))
			expectErrorIs(t, err, tc.want)

			h.expectEvents()
			expectBig(t, e18(100), h.debt(alice).Debt, "debt untouched")
		})
	}
}

func TestPausedModuleRejectsCalls(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.underwater(alice)
	h.engine.SetPauses(nativecommon.PauseSet{"liquidation": true})

	_, err := h.engine.Liquidate(h.ctx, keeper, alice, false)
	expectErrorIs(t, err, nativecommon.ErrModulePaused)
	_, err = h.engine.Deleverage(h.ctx, alice, alice, nil)
	expectErrorIs(t, err, nativecommon.ErrModulePaused)

	h.engine.SetPauses(nativecommon.PauseSet{})
	_, err = h.engine.Liquidate(h.ctx, keeper, alice, false)
	mustSucceed(t, err)
}

func TestTargetRepayDoesNotMutateState(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.underwater(alice)

	target, err := h.engine.TargetRepay(h.ctx, alice)
	mustSucceed(t, err)
	expectBig(t, frac(75, 2), target, "target")
	expectBig(t, e18(100), h.debt(alice).Debt, "debt")
	expectBig(t, e18(200), h.vaultBalance(alice, userVault, weth), "collateral")
	h.expectEvents()
}

func TestLiquidateRequiresBackendAndOwner(t *testing.T) {
	engine := lending.NewEngine(baseConfig())
	_, err := engine.Liquidate(context.Background(), keeper, alice, false)
	expectErrorIs(t, err, lending.ErrBackendNotConfigured)

	h := newHarness(t, baseConfig())
	_, err = h.engine.Liquidate(h.ctx, keeper, common.Address{}, false)
	expectErrorIs(t, err, lending.ErrInvalidOwner)
}

func TestSetConfigRequiresHigherVersion(t *testing.T) {
	h := newHarness(t, baseConfig())

	if err := h.engine.SetConfig(baseConfig()); err == nil {
		t.Fatalf("same version should be rejected")
	}

	next := baseConfig()
	next.Version = 2
	next.General.LtvPaybackBuffer = 10_00
	mustSucceed(t, h.engine.SetConfig(next))
	if got := h.engine.Config().General.LtvPaybackBuffer; got != 10_00 {
		t.Fatalf("expected buffer 1000, got %d", got)
	}

	broken := baseConfig()
	broken.Version = 3
	broken.General.Treasury = common.Address{}
	expectErrorIs(t, h.engine.SetConfig(broken), lending.ErrInvalidConfig)
	if got := h.engine.Config().Version; got != 2 {
		t.Fatalf("rejected config replaced version, got %d", got)
	}
}
