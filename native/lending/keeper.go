package lending

import (
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/core/events"
)

// KeeperFee returns the uncapped keeper incentive for liquidating debt:
// max(debt × KeeperFeeRatio, MinKeeperFee).
func KeeperFee(debt *big.Int, general GeneralConfig) *big.Int {
	if debt == nil || debt.Sign() <= 0 {
		return zero()
	}
	fee := bpsOf(debt, general.KeeperFeeRatio, RoundDown)
	if general.MinKeeperFee != nil && general.MinKeeperFee.Cmp(fee) > 0 {
		fee = new(big.Int).Set(general.MinKeeperFee)
	}
	return fee
}

type keeperReward struct {
	token  common.Address
	usd    *big.Int
	tokens *big.Int
}

func noKeeperReward(token common.Address) keeperReward {
	return keeperReward{token: token, usd: zero(), tokens: zero()}
}

// quoteKeeperReward sizes the keeper fee against the reward budget held by
// the debt ledger. A short or unpriced budget lowers the fee instead of
// failing the liquidation; any other error aborts it.
func (c *cascade) quoteKeeperReward(debt *big.Int) (keeperReward, error) {
	token := c.cfg.General.RewardToken
	fee := KeeperFee(debt, c.cfg.General)
	if fee.Sign() == 0 || token == (common.Address{}) {
		return noKeeperReward(token), nil
	}
	budget, err := c.tx.RewardBudget(token)
	if err != nil {
		return keeperReward{}, err
	}
	if budget == nil || budget.Sign() <= 0 {
		return noKeeperReward(token), nil
	}
	budgetUsd, err := c.prices.UsdValue(token, budget, RoundDown)
	if err != nil {
		if !errors.Is(err, ErrPriceUnavailable) {
			return keeperReward{}, err
		}
		c.logger.Warn("keeper reward token unpriced, skipping fee",
			slog.String("asset", token.Hex()),
			slog.Any("error", err))
		return noKeeperReward(token), nil
	}
	fee = minBig(fee, budgetUsd)
	tokens, err := c.prices.AssetAmount(token, fee, RoundDown)
	if err != nil {
		return keeperReward{}, err
	}
	tokens = minBig(tokens, budget)
	if tokens.Sign() == 0 {
		return noKeeperReward(token), nil
	}
	return keeperReward{token: token, usd: fee, tokens: tokens}, nil
}

func (c *cascade) payKeeper(keeper common.Address, reward keeperReward, staked bool) error {
	if reward.tokens == nil || reward.tokens.Sign() == 0 {
		return nil
	}
	if err := c.tx.PayKeeperReward(keeper, reward.token, reward.tokens, staked); err != nil {
		return err
	}
	c.emit(events.KeeperRewarded{
		Keeper:   keeper,
		Owner:    c.owner,
		Token:    reward.token,
		Amount:   new(big.Int).Set(reward.tokens),
		UsdValue: new(big.Int).Set(reward.usd),
		Staked:   staked,
	})
	return nil
}
