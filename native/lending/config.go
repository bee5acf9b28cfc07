package lending

import (
	"fmt"
	"math/big"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config captures the governance-controlled configuration of the liquidation
// module. A Config is immutable once handed to the engine; updates replace it
// wholesale with a higher Version.
type Config struct {
	Version             uint64        `toml:"version"`
	General             GeneralConfig `toml:"general"`
	Assets              []AssetConfig `toml:"assets"`
	ReservePriority     PriorityList  `toml:"reserve_priority"`
	LiquidationPriority PriorityList  `toml:"liquidation_priority"`

	index map[common.Address]*AssetConfig
}

// GeneralConfig holds the module wide knobs.
type GeneralConfig struct {
	LtvPaybackBuffer uint64         `toml:"ltv_payback_buffer"`
	KeeperFeeRatio   uint64         `toml:"keeper_fee_ratio"`
	MinKeeperFee     *big.Int       `toml:"min_keeper_fee"`
	DefaultAuction   AuctionParams  `toml:"auction"`
	ReservePoolVault VaultID        `toml:"reserve_pool_vault"`
	Treasury         common.Address `toml:"treasury"`
	StableAsset      common.Address `toml:"stable_asset"`
	StableWrapper    common.Address `toml:"stable_wrapper"`
	RewardToken      common.Address `toml:"reward_token"`
}

// AssetConfig describes how a single collateral asset is priced and disposed of.
type AssetConfig struct {
	Asset                    common.Address `toml:"asset"`
	Decimals                 uint8          `toml:"decimals"`
	ShouldBurnAsPayment      bool           `toml:"burn_as_payment"`
	ShouldTransferToTreasury bool           `toml:"transfer_to_treasury"`
	ShouldSwapInReservePool  bool           `toml:"swap_in_reserve_pool"`
	ShouldAuctionInstantly   bool           `toml:"auction_instantly"`
	SpecialReservePool       VaultID        `toml:"special_reserve_pool"`
	Terms                    DebtTerms      `toml:"terms"`
	Auction                  *AuctionParams `toml:"auction"`
	// Underlying is set for yield-bearing wrapper shares.
	Underlying common.Address `toml:"underlying"`
}

// IsWrapper reports whether the asset is a share of a yield vault.
func (a *AssetConfig) IsWrapper() bool {
	return a != nil && a.Underlying != (common.Address{})
}

// Validate checks the asset's terms, auction parameters and flag combination.
func (a *AssetConfig) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil asset config", ErrInvalidConfig)
	}
	if a.Asset == (common.Address{}) {
		return fmt.Errorf("%w: asset address required", ErrInvalidConfig)
	}
	if a.Decimals > 36 {
		return fmt.Errorf("%w: asset %s decimals %d out of range", ErrInvalidConfig, a.Asset.Hex(), a.Decimals)
	}
	if err := a.Terms.Validate(); err != nil {
		return fmt.Errorf("asset %s: %w", a.Asset.Hex(), err)
	}
	if a.Auction != nil {
		if err := a.Auction.Validate(); err != nil {
			return fmt.Errorf("asset %s: %w", a.Asset.Hex(), err)
		}
	}
	repaying := 0
	for _, flag := range []bool{a.ShouldBurnAsPayment, a.ShouldTransferToTreasury, a.ShouldSwapInReservePool} {
		if flag {
			repaying++
		}
	}
	if repaying > 1 {
		return fmt.Errorf("%w: asset %s enables more than one repayment strategy", ErrInvalidConfig, a.Asset.Hex())
	}
	if a.ShouldSwapInReservePool && a.Terms.LTV == 0 {
		return fmt.Errorf("asset %s: %w", a.Asset.Hex(), ErrSwapAssetWithoutLTV)
	}
	return nil
}

// LoadConfig reads a TOML configuration file, fills defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode liquidation config: %w", err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnsureDefaults populates nil big.Int fields, removes duplicate priority
// entries and builds the asset index.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.General.MinKeeperFee == nil {
		c.General.MinKeeperFee = big.NewInt(0)
	}
	c.ReservePriority = c.ReservePriority.Dedup()
	c.LiquidationPriority = c.LiquidationPriority.Dedup()
	c.index = make(map[common.Address]*AssetConfig, len(c.Assets))
	for i := range c.Assets {
		asset := &c.Assets[i]
		if _, exists := c.index[asset.Asset]; !exists {
			c.index[asset.Asset] = asset
		}
	}
}

// Validate checks every piece of configuration the cascade depends on. Any
// failure must halt the whole call.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: configuration missing", ErrInvalidConfig)
	}
	if c.index == nil {
		c.EnsureDefaults()
	}
	g := c.General
	if g.LtvPaybackBuffer >= HundredPercent {
		return fmt.Errorf("%w: ltv payback buffer must be below 100%%", ErrInvalidConfig)
	}
	if g.KeeperFeeRatio > HundredPercent {
		return fmt.Errorf("%w: keeper fee ratio above 100%%", ErrInvalidConfig)
	}
	if g.MinKeeperFee != nil && g.MinKeeperFee.Sign() < 0 {
		return fmt.Errorf("%w: negative minimum keeper fee", ErrInvalidConfig)
	}
	if g.Treasury == (common.Address{}) {
		return fmt.Errorf("%w: treasury address required", ErrInvalidConfig)
	}
	if g.ReservePoolVault == 0 {
		return fmt.Errorf("%w: reserve pool vault required", ErrInvalidConfig)
	}
	if err := g.DefaultAuction.Validate(); err != nil {
		return fmt.Errorf("general: %w", err)
	}
	seen := make(map[common.Address]struct{}, len(c.Assets))
	for i := range c.Assets {
		asset := &c.Assets[i]
		if _, dup := seen[asset.Asset]; dup {
			return fmt.Errorf("%w: asset %s configured twice", ErrInvalidConfig, asset.Asset.Hex())
		}
		seen[asset.Asset] = struct{}{}
		if err := asset.Validate(); err != nil {
			return err
		}
		if asset.IsWrapper() {
			if asset.ShouldSwapInReservePool {
				return fmt.Errorf("%w: wrapper asset %s cannot swap in reserve pool", ErrInvalidConfig, asset.Asset.Hex())
			}
			if _, ok := c.index[asset.Underlying]; !ok {
				return fmt.Errorf("%w: underlying %s of wrapper %s", ErrAssetNotConfigured, asset.Underlying.Hex(), asset.Asset.Hex())
			}
		}
	}
	if g.StableWrapper != (common.Address{}) {
		wrapper, ok := c.index[g.StableWrapper]
		if !ok || !wrapper.IsWrapper() {
			return fmt.Errorf("%w: stable wrapper %s must be a configured wrapper asset", ErrInvalidConfig, g.StableWrapper.Hex())
		}
	}
	if g.RewardToken != (common.Address{}) {
		if _, ok := c.index[g.RewardToken]; !ok {
			return fmt.Errorf("%w: reward token %s", ErrAssetNotConfigured, g.RewardToken.Hex())
		}
	}
	for _, list := range []PriorityList{c.ReservePriority, c.LiquidationPriority} {
		for _, entry := range list {
			if _, ok := c.index[entry.Asset]; !ok {
				return fmt.Errorf("%w: priority entry %s", ErrAssetNotConfigured, entry)
			}
		}
	}
	for _, entry := range c.ReservePriority {
		if entry.Vault != g.ReservePoolVault {
			return fmt.Errorf("%w: reserve priority entry %s outside reserve pool vault", ErrInvalidConfig, entry)
		}
	}
	return nil
}

// Asset returns the configuration of the supplied asset.
func (c *Config) Asset(asset common.Address) (*AssetConfig, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: configuration missing", ErrInvalidConfig)
	}
	if c.index == nil {
		c.EnsureDefaults()
	}
	cfg, ok := c.index[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotConfigured, asset.Hex())
	}
	return cfg, nil
}

// AuctionParamsFor resolves the auction curve for an asset, falling back to
// the module default.
func (c *Config) AuctionParamsFor(asset *AssetConfig) AuctionParams {
	params := c.General.DefaultAuction
	if asset != nil && asset.Auction != nil {
		params = *asset.Auction
	}
	if asset != nil && asset.ShouldAuctionInstantly {
		params.Delay = 0
	}
	return params
}

// Clone returns a deep copy of the configuration with a fresh index.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := &Config{
		Version:             c.Version,
		General:             c.General,
		Assets:              make([]AssetConfig, len(c.Assets)),
		ReservePriority:     append(PriorityList(nil), c.ReservePriority...),
		LiquidationPriority: append(PriorityList(nil), c.LiquidationPriority...),
	}
	if c.General.MinKeeperFee != nil {
		clone.General.MinKeeperFee = new(big.Int).Set(c.General.MinKeeperFee)
	}
	for i, asset := range c.Assets {
		if asset.Auction != nil {
			params := *asset.Auction
			asset.Auction = &params
		}
		clone.Assets[i] = asset
	}
	clone.EnsureDefaults()
	return clone
}
