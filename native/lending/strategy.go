package lending

import "fmt"

// StrategyKind enumerates the disposal strategies.
type StrategyKind uint8

const (
	StrategyAuction StrategyKind = iota
	StrategyBurn
	StrategyReserveSwap
	StrategyTreasury
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyBurn:
		return "burn"
	case StrategyReserveSwap:
		return "reserve_swap"
	case StrategyTreasury:
		return "treasury"
	case StrategyAuction:
		return "auction"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(k))
	}
}

// DisposalStrategy is the resolved disposal rule of one asset. Pool is only
// meaningful for StrategyReserveSwap; Special marks a pool override that swaps
// against the pool's own asset list instead of the reserve priority list.
type DisposalStrategy struct {
	Kind    StrategyKind
	Pool    VaultID
	Special bool
}

func (s DisposalStrategy) String() string {
	if s.Kind == StrategyReserveSwap {
		return fmt.Sprintf("%s(%d)", s.Kind, s.Pool)
	}
	return s.Kind.String()
}

// Strategy builds the disposal strategy of the asset. Burn takes precedence
// over reserve swaps, which take precedence over treasury transfers. Assets
// with none of these flags are auctioned.
func (a *AssetConfig) Strategy(general GeneralConfig) DisposalStrategy {
	switch {
	case a.ShouldBurnAsPayment:
		return DisposalStrategy{Kind: StrategyBurn}
	case a.ShouldSwapInReservePool && a.SpecialReservePool != 0:
		return DisposalStrategy{Kind: StrategyReserveSwap, Pool: a.SpecialReservePool, Special: true}
	case a.ShouldSwapInReservePool:
		return DisposalStrategy{Kind: StrategyReserveSwap, Pool: general.ReservePoolVault}
	case a.ShouldTransferToTreasury:
		return DisposalStrategy{Kind: StrategyTreasury}
	default:
		return DisposalStrategy{Kind: StrategyAuction}
	}
}

// ownReserveStrategy is the rule for balances already sitting in a reserve
// pool vault: they repay directly, never swap or auction.
func (a *AssetConfig) ownReserveStrategy() DisposalStrategy {
	if a.ShouldBurnAsPayment {
		return DisposalStrategy{Kind: StrategyBurn}
	}
	return DisposalStrategy{Kind: StrategyTreasury}
}
