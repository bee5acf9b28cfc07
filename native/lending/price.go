package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// priceAdapter converts between token amounts and USD values for a single
// configuration snapshot. The protocol stable asset and its wrapper are valued
// at face ($1 per underlying unit) and never consult the oracle.
type priceAdapter struct {
	cfg    *Config
	oracle PriceOracle
	shares ShareConverter
}

func newPriceAdapter(cfg *Config, oracle PriceOracle, shares ShareConverter) *priceAdapter {
	return &priceAdapter{cfg: cfg, oracle: oracle, shares: shares}
}

func (p *priceAdapter) isStable(asset common.Address) bool {
	return asset != (common.Address{}) && asset == p.cfg.General.StableAsset
}

func (p *priceAdapter) isStableWrapper(asset common.Address) bool {
	return asset != (common.Address{}) && asset == p.cfg.General.StableWrapper
}

// unitPrice returns the USD value of one whole token.
func (p *priceAdapter) unitPrice(asset *AssetConfig) (*big.Int, error) {
	switch {
	case p.isStable(asset.Asset):
		return new(big.Int).Set(OneUsd), nil
	case p.isStableWrapper(asset.Asset):
		underlying, err := p.cfg.Asset(asset.Underlying)
		if err != nil {
			return nil, err
		}
		perShare, err := p.toUnderlyingSafe(asset.Asset, pow10(asset.Decimals))
		if err != nil {
			return nil, err
		}
		if perShare.Sign() == 0 {
			return nil, fmt.Errorf("%w: %s share rate is zero", ErrPriceUnavailable, asset.Asset.Hex())
		}
		return mulDiv(perShare, OneUsd, pow10(underlying.Decimals), RoundDown), nil
	}
	if p.oracle == nil {
		return nil, fmt.Errorf("%w: oracle not configured", ErrPriceUnavailable)
	}
	price, err := p.oracle.Price(asset.Asset)
	if err != nil {
		if errors.Is(err, ErrPriceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, asset.Asset.Hex(), err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s has no price", ErrPriceUnavailable, asset.Asset.Hex())
	}
	return price, nil
}

// UsdValue converts amount of asset to USD.
func (p *priceAdapter) UsdValue(asset common.Address, amount *big.Int, r Rounding) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return zero(), nil
	}
	cfg, err := p.cfg.Asset(asset)
	if err != nil {
		return nil, err
	}
	price, err := p.unitPrice(cfg)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, price, pow10(cfg.Decimals), r), nil
}

// AssetAmount converts a USD value into units of asset.
func (p *priceAdapter) AssetAmount(asset common.Address, usd *big.Int, r Rounding) (*big.Int, error) {
	if usd == nil || usd.Sign() == 0 {
		return zero(), nil
	}
	cfg, err := p.cfg.Asset(asset)
	if err != nil {
		return nil, err
	}
	price, err := p.unitPrice(cfg)
	if err != nil {
		return nil, err
	}
	return mulDiv(usd, pow10(cfg.Decimals), price, r), nil
}

func (p *priceAdapter) toUnderlyingOptimistic(wrapper common.Address, shares *big.Int) (*big.Int, error) {
	if p.shares == nil {
		return nil, fmt.Errorf("%w: share converter not configured", ErrPriceUnavailable)
	}
	out, err := p.shares.ToUnderlyingOptimistic(wrapper, shares)
	if err != nil {
		return nil, fmt.Errorf("optimistic share rate for %s: %w", wrapper.Hex(), err)
	}
	return cloneOrZero(out), nil
}

func (p *priceAdapter) toUnderlyingSafe(wrapper common.Address, shares *big.Int) (*big.Int, error) {
	if p.shares == nil {
		return nil, fmt.Errorf("%w: share converter not configured", ErrPriceUnavailable)
	}
	out, err := p.shares.ToUnderlyingSafe(wrapper, shares)
	if err != nil {
		return nil, fmt.Errorf("safe share rate for %s: %w", wrapper.Hex(), err)
	}
	return cloneOrZero(out), nil
}

// collateralValue sums the conservative USD value of every holding.
func (p *priceAdapter) collateralValue(holdings []Holding) (*big.Int, error) {
	total := zero()
	for _, h := range holdings {
		value, err := p.UsdValue(h.Asset, h.Amount, RoundDown)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
