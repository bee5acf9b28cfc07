package pricing

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ripecore/native/lending"
	"ripecore/observability"
)

// PriceStatus captures the health classification assigned to a published quote.
type PriceStatus string

const (
	// PriceStatusOK indicates the quote passed all configured guardrails.
	PriceStatusOK PriceStatus = "ok"
	// PriceStatusStale signals the quote exceeded the configured freshness window.
	PriceStatusStale PriceStatus = "stale"
	// PriceStatusDeviant indicates the quote jumped further than the configured
	// threshold from the previous publication and awaits confirmation.
	PriceStatusDeviant PriceStatus = "deviant"
)

// Quote summarises the feed's view of one asset.
type Quote struct {
	// Price is the USD value of one whole token at 18 decimals.
	Price      *big.Int
	AgeSeconds uint32
	Status     PriceStatus
}

// Config holds the feed guardrails.
type Config struct {
	MaxAge          time.Duration
	MaxDeviationBps uint32
}

type observation struct {
	price   *big.Int
	at      time.Time
	deviant bool
}

type shareRate struct {
	decimals   uint8
	optimistic *big.Int
	safe       *big.Int
	at         time.Time
}

// Feed stores published USD prices and wrapper exchange rates. It implements
// the engine's PriceOracle and ShareConverter collaborators.
type Feed struct {
	mu     sync.RWMutex
	cfg    Config
	prices map[common.Address]observation
	rates  map[common.Address]shareRate
	clock  func() time.Time
}

// Option customises a Feed.
type Option func(*Feed)

// WithClock overrides the feed clock.
func WithClock(clock func() time.Time) Option {
	return func(f *Feed) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewFeed constructs an empty feed.
func NewFeed(cfg Config, opts ...Option) *Feed {
	feed := &Feed{
		cfg:    cfg,
		prices: make(map[common.Address]observation),
		rates:  make(map[common.Address]shareRate),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(feed)
	}
	return feed
}

// Publish records the USD price of one whole token observed at ts.
func (f *Feed) Publish(asset common.Address, price *big.Int, ts time.Time) error {
	if f == nil {
		return fmt.Errorf("pricing: feed not initialised")
	}
	if asset == (common.Address{}) {
		return fmt.Errorf("pricing: asset required")
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("pricing: price for %s must be positive", asset.Hex())
	}
	if ts.IsZero() {
		ts = f.clock()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.prices[asset]
	if ok && ts.Before(prev.at) {
		return fmt.Errorf("pricing: observation for %s older than current", asset.Hex())
	}
	deviant := ok && f.cfg.MaxDeviationBps > 0 && deviatesBeyondThreshold(price, prev.price, f.cfg.MaxDeviationBps)
	f.prices[asset] = observation{price: new(big.Int).Set(price), at: ts.UTC(), deviant: deviant}
	observability.Oracle().RecordUpdate(asset.Hex())
	return nil
}

// PublishShareRate records how many underlying units one whole wrapper share
// is worth under the optimistic and safe valuations.
func (f *Feed) PublishShareRate(wrapper common.Address, decimals uint8, optimistic, safe *big.Int, ts time.Time) error {
	if f == nil {
		return fmt.Errorf("pricing: feed not initialised")
	}
	if wrapper == (common.Address{}) {
		return fmt.Errorf("pricing: wrapper required")
	}
	if optimistic == nil || optimistic.Sign() < 0 || safe == nil || safe.Sign() < 0 {
		return fmt.Errorf("pricing: share rates for %s must not be negative", wrapper.Hex())
	}
	if decimals > 36 {
		return fmt.Errorf("pricing: wrapper decimals %d out of range", decimals)
	}
	if ts.IsZero() {
		ts = f.clock()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[wrapper] = shareRate{
		decimals:   decimals,
		optimistic: new(big.Int).Set(optimistic),
		safe:       new(big.Int).Set(safe),
		at:         ts.UTC(),
	}
	return nil
}

// Quote classifies the latest observation of asset.
func (f *Feed) Quote(asset common.Address) (Quote, error) {
	if f == nil {
		return Quote{}, fmt.Errorf("pricing: feed not initialised")
	}
	f.mu.RLock()
	obs, ok := f.prices[asset]
	f.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: no quote for %s", lending.ErrPriceUnavailable, asset.Hex())
	}
	age := computeAgeSeconds(obs.at, f.clock().UTC())
	status := PriceStatusOK
	if obs.deviant {
		status = PriceStatusDeviant
	}
	if f.cfg.MaxAge > 0 && time.Duration(age)*time.Second > f.cfg.MaxAge {
		status = PriceStatusStale
	}
	return Quote{Price: new(big.Int).Set(obs.price), AgeSeconds: age, Status: status}, nil
}

// Price implements lending.PriceOracle. Stale and deviant quotes are
// reported as unavailable.
func (f *Feed) Price(asset common.Address) (*big.Int, error) {
	quote, err := f.Quote(asset)
	if err != nil {
		observability.Oracle().RecordRejected(asset.Hex(), "missing")
		return nil, err
	}
	observability.Oracle().RecordFreshness(asset.Hex(), time.Duration(quote.AgeSeconds)*time.Second)
	if quote.Status != PriceStatusOK {
		observability.Oracle().RecordRejected(asset.Hex(), string(quote.Status))
		return nil, fmt.Errorf("%w: %s quote is %s", lending.ErrPriceUnavailable, asset.Hex(), quote.Status)
	}
	return quote.Price, nil
}

func (f *Feed) shareRate(wrapper common.Address) (shareRate, error) {
	if f == nil {
		return shareRate{}, fmt.Errorf("pricing: feed not initialised")
	}
	f.mu.RLock()
	rate, ok := f.rates[wrapper]
	f.mu.RUnlock()
	if !ok {
		return shareRate{}, fmt.Errorf("%w: no share rate for %s", lending.ErrPriceUnavailable, wrapper.Hex())
	}
	if f.cfg.MaxAge > 0 && time.Duration(computeAgeSeconds(rate.at, f.clock().UTC()))*time.Second > f.cfg.MaxAge {
		return shareRate{}, fmt.Errorf("%w: share rate for %s is stale", lending.ErrPriceUnavailable, wrapper.Hex())
	}
	return rate, nil
}

func convertShares(shares, perShare *big.Int, decimals uint8) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(shares, perShare)
	return out.Quo(out, unit)
}

// ToUnderlyingOptimistic implements lending.ShareConverter.
func (f *Feed) ToUnderlyingOptimistic(wrapper common.Address, shares *big.Int) (*big.Int, error) {
	rate, err := f.shareRate(wrapper)
	if err != nil {
		return nil, err
	}
	return convertShares(shares, rate.optimistic, rate.decimals), nil
}

// ToUnderlyingSafe implements lending.ShareConverter.
func (f *Feed) ToUnderlyingSafe(wrapper common.Address, shares *big.Int) (*big.Int, error) {
	rate, err := f.shareRate(wrapper)
	if err != nil {
		return nil, err
	}
	return convertShares(shares, rate.safe, rate.decimals), nil
}

func computeAgeSeconds(observed, now time.Time) uint32 {
	if observed.IsZero() || now.IsZero() {
		return math.MaxUint32
	}
	observed = observed.UTC()
	now = now.UTC()
	if observed.After(now) {
		return 0
	}
	delta := now.Sub(observed)
	if delta <= 0 {
		return 0
	}
	seconds := delta / time.Second
	if seconds < 0 {
		return 0
	}
	if seconds > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(seconds)
}

func deviatesBeyondThreshold(next, prev *big.Int, thresholdBps uint32) bool {
	if next == nil || prev == nil || prev.Sign() <= 0 {
		return false
	}
	diff := new(big.Int).Sub(next, prev)
	diff.Abs(diff)
	if diff.Sign() == 0 {
		return false
	}
	// diff / prev > threshold / 10000
	lhs := diff.Mul(diff, big.NewInt(10_000))
	rhs := new(big.Int).Mul(prev, big.NewInt(int64(thresholdBps)))
	return lhs.Cmp(rhs) > 0
}
