// The engine tests drive the real state and pricing packages, which import
// lending, so they live in the external test package.
package lending_test

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/core/events"
	"ripecore/core/pricing"
	"ripecore/core/state"
	"ripecore/native/lending"
	"ripecore/storage"
)

var (
	stable   = common.HexToAddress("0x0000000000000000000000000000000000000051")
	green    = common.HexToAddress("0x0000000000000000000000000000000000000052")
	weth     = common.HexToAddress("0x0000000000000000000000000000000000000061")
	wbtc     = common.HexToAddress("0x0000000000000000000000000000000000000062")
	link     = common.HexToAddress("0x0000000000000000000000000000000000000063")
	wvault   = common.HexToAddress("0x0000000000000000000000000000000000000071")
	ripe     = common.HexToAddress("0x0000000000000000000000000000000000000081")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	keeper   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

const (
	userVault    lending.VaultID = 1
	poolVault    lending.VaultID = 2
	specialVault lending.VaultID = 3
	otherVault   lending.VaultID = 4
)

var standardTerms = lending.DebtTerms{
	LTV:                 50_00,
	RedemptionThreshold: 60_00,
	LiqThreshold:        80_00,
	LiqFee:              10_00,
	BorrowRate:          5_00,
}

// e18 returns v whole units at 18 decimals.
func e18(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000_000_000_000))
}

// frac returns num/den whole units at 18 decimals, rounded down.
func frac(num, den int64) *big.Int {
	out := e18(num)
	return out.Quo(out, big.NewInt(den))
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("parse %q", s)
	}
	return v
}

func baseConfig() *lending.Config {
	return &lending.Config{
		Version: 1,
		General: lending.GeneralConfig{
			MinKeeperFee: big.NewInt(0),
			DefaultAuction: lending.AuctionParams{
				StartDiscount: 1_00,
				MaxDiscount:   50_00,
				Delay:         60,
				Duration:      3_600,
			},
			ReservePoolVault: poolVault,
			Treasury:         treasury,
			StableAsset:      stable,
			RewardToken:      ripe,
		},
		Assets: []lending.AssetConfig{
			{Asset: stable, Decimals: 18, ShouldBurnAsPayment: true},
			{Asset: green, Decimals: 18, ShouldTransferToTreasury: true},
			{Asset: weth, Decimals: 18, ShouldTransferToTreasury: true, Terms: standardTerms},
			{Asset: wbtc, Decimals: 8, Terms: standardTerms},
			{Asset: link, Decimals: 18, ShouldSwapInReservePool: true, SpecialReservePool: specialVault, Terms: standardTerms},
			{Asset: wvault, Decimals: 18, ShouldTransferToTreasury: true, Underlying: weth, Terms: standardTerms},
			{Asset: ripe, Decimals: 18, ShouldTransferToTreasury: true},
		},
		ReservePriority: lending.PriorityList{
			{Vault: poolVault, Asset: stable},
			{Vault: poolVault, Asset: green},
		},
	}
}

func assetConfig(t *testing.T, cfg *lending.Config, asset common.Address) *lending.AssetConfig {
	t.Helper()
	for i := range cfg.Assets {
		if cfg.Assets[i].Asset == asset {
			return &cfg.Assets[i]
		}
	}
	t.Fatalf("asset %s not in config", asset.Hex())
	return nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	mgr      *state.Manager
	feed     *pricing.Feed
	recorder *events.Recorder
	engine   *lending.Engine
}

// harnessNow is the fixed clock of every harness price feed.
var harnessNow = time.Unix(1_700_000_000, 0)

func newHarness(t *testing.T, cfg *lending.Config) *harness {
	t.Helper()
	now := harnessNow
	mgr := state.NewManager(storage.NewMemDB())
	feed := pricing.NewFeed(pricing.Config{MaxAge: time.Hour}, pricing.WithClock(func() time.Time { return now }))
	recorder := &events.Recorder{}
	engine := lending.NewEngine(cfg)
	engine.SetBackend(mgr)
	engine.SetPriceOracle(feed)
	engine.SetShareConverter(feed)
	engine.SetAuthorizer(mgr)
	engine.SetEmitter(recorder)
	return &harness{t: t, ctx: context.Background(), mgr: mgr, feed: feed, recorder: recorder, engine: engine}
}

func (h *harness) price(asset common.Address, usd *big.Int) {
	h.t.Helper()
	if err := h.feed.Publish(asset, usd, time.Time{}); err != nil {
		h.t.Fatalf("publish %s: %v", asset.Hex(), err)
	}
}

func (h *harness) seed(fn func(txn *state.Txn) error) {
	h.t.Helper()
	if err := h.mgr.Update(h.ctx, fn); err != nil {
		h.t.Fatalf("seed state: %v", err)
	}
}

func (h *harness) deposit(owner common.Address, vault lending.VaultID, asset common.Address, amount *big.Int) {
	h.t.Helper()
	h.seed(func(txn *state.Txn) error { return txn.Deposit(owner, vault, asset, amount) })
}

func (h *harness) borrow(owner common.Address, debt *big.Int) {
	h.t.Helper()
	h.seed(func(txn *state.Txn) error { return txn.SetDebt(owner, debt, standardTerms) })
}

func (h *harness) view(fn func(txn *state.Txn)) {
	h.t.Helper()
	err := h.mgr.View(h.ctx, func(txn *state.Txn) error {
		fn(txn)
		return nil
	})
	if err != nil {
		h.t.Fatalf("view state: %v", err)
	}
}

func (h *harness) debt(owner common.Address) *lending.DebtRecord {
	h.t.Helper()
	var rec *lending.DebtRecord
	h.view(func(txn *state.Txn) {
		var err error
		rec, err = txn.DebtPosition(owner)
		if err != nil {
			h.t.Fatalf("read state: %v", err)
		}
	})
	return rec
}

func (h *harness) vaultBalance(owner common.Address, vault lending.VaultID, asset common.Address) *big.Int {
	h.t.Helper()
	var out *big.Int
	h.view(func(txn *state.Txn) {
		var err error
		out, err = txn.VaultBalance(owner, vault, asset)
		if err != nil {
			h.t.Fatalf("read state: %v", err)
		}
	})
	return out
}

func (h *harness) balance(holder, asset common.Address) *big.Int {
	h.t.Helper()
	var out *big.Int
	h.view(func(txn *state.Txn) {
		var err error
		out, err = txn.Balance(holder, asset)
		if err != nil {
			h.t.Fatalf("read state: %v", err)
		}
	})
	return out
}

func (h *harness) burned(asset common.Address) *big.Int {
	h.t.Helper()
	var out *big.Int
	h.view(func(txn *state.Txn) {
		var err error
		out, err = txn.Burned(asset)
		if err != nil {
			h.t.Fatalf("read state: %v", err)
		}
	})
	return out
}

func (h *harness) eventTypes() []string {
	recorded := h.recorder.Events()
	out := make([]string, 0, len(recorded))
	for _, evt := range recorded {
		out = append(out, evt.EventType())
	}
	return out
}

// disposedPairs lists the vault/asset pairs touched by disposal events, in
// emission order.
func (h *harness) disposedPairs() []lending.VaultAsset {
	var out []lending.VaultAsset
	for _, evt := range h.recorder.Events() {
		switch e := evt.(type) {
		case events.BurntAsRepayment:
			out = append(out, lending.VaultAsset{Vault: lending.VaultID(e.Vault), Asset: e.Asset})
		case events.SentToTreasury:
			out = append(out, lending.VaultAsset{Vault: lending.VaultID(e.Vault), Asset: e.Asset})
		case events.ReserveSwap:
			out = append(out, lending.VaultAsset{Vault: lending.VaultID(e.Vault), Asset: e.LiqAsset})
		case events.AuctionStarted:
			out = append(out, lending.VaultAsset{Vault: lending.VaultID(e.Vault), Asset: e.Asset})
		}
	}
	return out
}

func expectBig(t *testing.T, want, got *big.Int, label string) {
	t.Helper()
	if got == nil || want.Cmp(got) != 0 {
		t.Fatalf("%s: want %s got %s", label, want, got)
	}
}

func expectErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func mustSucceed(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) expectEvents(want ...string) {
	h.t.Helper()
	if got := h.eventTypes(); !slices.Equal(got, want) {
		h.t.Fatalf("unexpected events: want %v got %v", want, got)
	}
}

func (h *harness) expectPairs(want ...lending.VaultAsset) {
	h.t.Helper()
	if got := h.disposedPairs(); !slices.Equal(got, want) {
		h.t.Fatalf("unexpected disposal order: want %v got %v", want, got)
	}
}
