package lending

import (
	"math/big"
	"testing"
)

func e18(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), pow10(18))
}

// e18Frac returns num/den whole units at 18 decimals.
func e18Frac(num, den int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(num), pow10(18))
	return out.Quo(out, big.NewInt(den))
}

var standardTerms = DebtTerms{
	LTV:                 50_00,
	RedemptionThreshold: 60_00,
	LiqThreshold:        80_00,
	LiqFee:              10_00,
	BorrowRate:          5_00,
}

func TestComputeTargetRepayScenario(t *testing.T) {
	// debt 100 against 200 collateral after a 0.625x price drop
	got := ComputeTargetRepay(e18(100), e18(125), standardTerms, GeneralConfig{})
	if got.Cmp(e18Frac(75, 2)) != 0 {
		t.Fatalf("expected 37.5, got %s", got)
	}
}

func TestComputeTargetRepayHealthy(t *testing.T) {
	got := ComputeTargetRepay(e18(100), e18(200), standardTerms, GeneralConfig{})
	if got.Sign() != 0 {
		t.Fatalf("expected healthy position to need nothing, got %s", got)
	}
}

func TestComputeTargetRepayZeroInputs(t *testing.T) {
	if got := ComputeTargetRepay(big.NewInt(0), e18(10), standardTerms, GeneralConfig{}); got.Sign() != 0 {
		t.Fatalf("zero debt must need nothing, got %s", got)
	}
	if got := ComputeTargetRepay(e18(10), big.NewInt(0), standardTerms, GeneralConfig{}); got.Sign() != 0 {
		t.Fatalf("zero collateral must need nothing, got %s", got)
	}
	if got := ComputeTargetRepay(nil, nil, standardTerms, GeneralConfig{}); got.Sign() != 0 {
		t.Fatalf("nil inputs must need nothing, got %s", got)
	}
}

func TestComputeTargetRepayAppliesBuffer(t *testing.T) {
	general := GeneralConfig{LtvPaybackBuffer: 50_00}
	if ltv := EffectiveTargetLtv(standardTerms, general); ltv != 25_00 {
		t.Fatalf("unexpected effective ltv %d", ltv)
	}
	got := ComputeTargetRepay(e18(100), e18(125), standardTerms, general)
	want := e18Frac(275, 4) // 100 - 0.25 * 125
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestComputeTargetRepayRoundsUp(t *testing.T) {
	terms := standardTerms
	terms.LTV = 33_33
	// allowed = 3 * 0.3333 = 0.9999 floored to 0 base units, so everything is due
	got := ComputeTargetRepay(big.NewInt(3), big.NewInt(3), terms, GeneralConfig{})
	if got.Int64() != 3 {
		t.Fatalf("expected full repay after round down of allowance, got %s", got)
	}
}

func TestComputeTargetRepayCapsAtDebt(t *testing.T) {
	terms := standardTerms
	got := ComputeTargetRepay(e18(100), e18(1), terms, GeneralConfig{})
	want := new(big.Int).Sub(e18(100), e18Frac(1, 2))
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestKeeperFee(t *testing.T) {
	general := GeneralConfig{KeeperFeeRatio: 1_00, MinKeeperFee: e18(2)}
	if got := KeeperFee(e18(100), general); got.Cmp(e18(2)) != 0 {
		t.Fatalf("expected minimum keeper fee, got %s", got)
	}
	if got := KeeperFee(e18(1_000), general); got.Cmp(e18(10)) != 0 {
		t.Fatalf("expected ratio keeper fee, got %s", got)
	}
	if got := KeeperFee(big.NewInt(0), general); got.Sign() != 0 {
		t.Fatalf("expected zero fee without debt, got %s", got)
	}
}
