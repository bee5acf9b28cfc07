package lending_test

import (
	"math/big"
	"testing"
	"time"

	"ripecore/core/events"
	"ripecore/core/state"
	"ripecore/native/lending"
)

func TestDeleverageExplicitTarget(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, userVault, weth, e18(200))
	h.borrow(alice, e18(100))
	h.price(weth, e18(1))

	result, err := h.engine.Deleverage(h.ctx, alice, alice, e18(30))
	mustSucceed(t, err)
	expectBig(t, e18(30), result.TargetRepay, "target")
	expectBig(t, e18(30), result.Repaid, "repaid")
	if !result.HasGoodDebtHealth {
		t.Fatalf("70 of debt against 170 of collateral is healthy")
	}

	expectBig(t, e18(30), h.balance(treasury, weth), "treasury weth")
	expectBig(t, e18(170), h.vaultBalance(alice, userVault, weth), "collateral")
	expectBig(t, e18(70), h.debt(alice).Debt, "debt")
	h.expectEvents(events.TypeSentToTreasury, events.TypePositionDeleveraged)
}

func TestDeleverageCapsTargetAtDebt(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, userVault, weth, e18(200))
	h.borrow(alice, e18(100))
	h.price(weth, e18(1))

	repaid, err := h.engine.DeleveragePosition(h.ctx, alice, alice, e18(500))
	mustSucceed(t, err)
	expectBig(t, e18(100), repaid, "repaid")
	if h.debt(alice).Debt.Sign() != 0 {
		t.Fatalf("debt should be cleared, got %s", h.debt(alice).Debt)
	}
	expectBig(t, e18(100), h.vaultBalance(alice, userVault, weth), "collateral")
}

func TestDeleverageComputedTarget(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.underwater(alice)

	result, err := h.engine.Deleverage(h.ctx, alice, alice, nil)
	mustSucceed(t, err)
	expectBig(t, frac(75, 2), result.TargetRepay, "target")
	expectBig(t, frac(75, 2), result.Repaid, "repaid without fees")
	// 62.5 of debt against 87.5 of collateral is still above the 50% ltv
	if result.HasGoodDebtHealth {
		t.Fatalf("position should remain above ltv")
	}
	expectBig(t, e18(60), h.balance(treasury, weth), "treasury weth")
	expectBig(t, frac(125, 2), h.debt(alice).Debt, "debt")
}

func TestDeleverageHealthyPositionIsNoop(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, userVault, weth, e18(200))
	h.borrow(alice, e18(100))
	h.price(weth, e18(1))

	result, err := h.engine.Deleverage(h.ctx, alice, alice, nil)
	mustSucceed(t, err)
	if result.Repaid.Sign() != 0 {
		t.Fatalf("healthy position repaid %s", result.Repaid)
	}
	h.expectEvents()

	result, err = h.engine.Deleverage(h.ctx, bob, bob, nil)
	mustSucceed(t, err)
	if !result.HasGoodDebtHealth {
		t.Fatalf("no debt is healthy")
	}
}

func TestDeleverageNeverBurnsOrSwaps(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(bob, specialVault, green, e18(100))
	h.deposit(alice, userVault, stable, e18(10))
	h.deposit(alice, userVault, link, e18(100))
	h.borrow(alice, e18(60))
	h.price(link, e18(1))
	h.price(green, e18(1))

	result, err := h.engine.Deleverage(h.ctx, alice, alice, e18(25))
	mustSucceed(t, err)
	expectBig(t, e18(25), result.Repaid, "repaid")
	h.expectEvents(events.TypeSentToTreasury, events.TypeSentToTreasury, events.TypePositionDeleveraged)
	expectBig(t, big.NewInt(0), h.burned(stable), "nothing burned")
	expectBig(t, e18(10), h.balance(treasury, stable), "treasury stable")
	expectBig(t, e18(15), h.balance(treasury, link), "treasury link")
	expectBig(t, e18(100), h.vaultBalance(bob, specialVault, green), "pool untouched")
}

func TestDeleverageConsultsPriorityListFirst(t *testing.T) {
	cfg := baseConfig()
	cfg.LiquidationPriority = lending.PriorityList{{Vault: otherVault, Asset: weth}}
	h := newHarness(t, cfg)
	h.deposit(alice, userVault, weth, e18(50))
	h.deposit(alice, otherVault, weth, e18(50))
	h.borrow(alice, e18(60))
	h.price(weth, e18(1))

	result, err := h.engine.Deleverage(h.ctx, alice, alice, e18(20))
	mustSucceed(t, err)
	expectBig(t, e18(20), result.Repaid, "repaid")
	h.expectPairs(lending.VaultAsset{Vault: otherVault, Asset: weth})
	expectBig(t, e18(30), h.vaultBalance(alice, otherVault, weth), "priority vault")
	expectBig(t, e18(50), h.vaultBalance(alice, userVault, weth), "natural vault untouched")
	expectBig(t, e18(20), h.balance(treasury, weth), "treasury weth")
}

func TestDeleverageTreatsSameAssetInOtherVaultIndependently(t *testing.T) {
	cfg := baseConfig()
	cfg.LiquidationPriority = lending.PriorityList{{Vault: otherVault, Asset: weth}}
	h := newHarness(t, cfg)
	h.deposit(alice, userVault, weth, e18(50))
	h.deposit(alice, otherVault, weth, e18(50))
	h.borrow(alice, e18(60))
	h.price(weth, e18(1))

	result, err := h.engine.Deleverage(h.ctx, alice, alice, e18(60))
	mustSucceed(t, err)
	expectBig(t, e18(60), result.Repaid, "repaid")
	h.expectPairs(
		lending.VaultAsset{Vault: otherVault, Asset: weth},
		lending.VaultAsset{Vault: userVault, Asset: weth},
	)
	expectBig(t, big.NewInt(0), h.vaultBalance(alice, otherVault, weth), "priority vault drained")
	expectBig(t, e18(40), h.vaultBalance(alice, userVault, weth), "natural vault")
	expectBig(t, e18(60), h.balance(treasury, weth), "treasury weth")
	if h.debt(alice).Debt.Sign() != 0 {
		t.Fatalf("debt should be cleared, got %s", h.debt(alice).Debt)
	}
}

func TestDeleverageAuthorization(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.deposit(alice, userVault, weth, e18(200))
	h.borrow(alice, e18(100))
	h.price(weth, e18(1))

	_, err := h.engine.Deleverage(h.ctx, bob, alice, e18(10))
	expectErrorIs(t, err, lending.ErrUnauthorized)
	h.expectEvents()

	h.seed(func(txn *state.Txn) error { return txn.GrantRole(state.RoleDeleverage, bob) })
	repaid, err := h.engine.DeleveragePosition(h.ctx, bob, alice, e18(10))
	mustSucceed(t, err)
	expectBig(t, e18(10), repaid, "repaid")
	deleveraged := h.recorder.Events()[1].(events.PositionDeleveraged)
	if deleveraged.Caller != bob || deleveraged.Owner != alice {
		t.Fatalf("unexpected deleverage event %+v", deleveraged)
	}

	h.seed(func(txn *state.Txn) error { return txn.RevokeRole(state.RoleDeleverage, bob) })
	_, err = h.engine.Deleverage(h.ctx, bob, alice, e18(10))
	expectErrorIs(t, err, lending.ErrUnauthorized)

	_, err = h.engine.Deleverage(h.ctx, alice, alice, big.NewInt(-1))
	expectErrorIs(t, err, lending.ErrInvalidConfig)
}

func TestDeleverageWithoutAuthorizerDenies(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.engine.SetAuthorizer(nil)
	_, err := h.engine.Deleverage(h.ctx, alice, alice, e18(1))
	expectErrorIs(t, err, lending.ErrUnauthorized)
}

func TestDeleverageWrapperShareRate(t *testing.T) {
	cases := []struct {
		name       string
		optimistic *big.Int
		safe       *big.Int
		target     *big.Int
		wantShares *big.Int
	}{
		{
			name:       "optimistic clamped to safe plus guard",
			optimistic: frac(3, 2),
			safe:       e18(1),
			target:     frac(101, 10),
			wantShares: e18(10),
		},
		{
			name:       "optimistic within guard",
			optimistic: frac(1005, 1000),
			safe:       e18(1),
			target:     frac(1005, 100),
			wantShares: e18(10),
		},
		{
			name:       "zero safe rate leaves optimistic",
			optimistic: e18(2),
			safe:       big.NewInt(0),
			target:     e18(10),
			wantShares: e18(5),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, baseConfig())
			h.deposit(alice, userVault, wvault, e18(20))
			h.borrow(alice, e18(20))
			h.price(weth, e18(1))
			h.price(wvault, e18(1))
			if err := h.feed.PublishShareRate(wvault, 18, tc.optimistic, tc.safe, time.Time{}); err != nil {
				t.Fatalf("publish share rate: %v", err)
			}

			result, err := h.engine.Deleverage(h.ctx, alice, alice, tc.target)
			mustSucceed(t, err)
			expectBig(t, tc.target, result.Repaid, "repaid")
			expectBig(t, tc.wantShares, h.balance(treasury, wvault), "shares sent")
			sent := h.recorder.Events()[0].(events.SentToTreasury)
			expectBig(t, tc.target, sent.UsdValue, "credited value")
		})
	}
}
