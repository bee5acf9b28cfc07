package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ripecore/core/events"
	nativecommon "ripecore/native/common"
	"ripecore/observability"
)

var (
	ErrInvalidDebtTerms     = errors.New("lending engine: invalid debt terms")
	ErrInvalidAuctionParams = errors.New("lending engine: invalid auction params")
	ErrSwapAssetWithoutLTV  = errors.New("lending engine: reserve swap asset has zero ltv")
	ErrInvalidConfig        = errors.New("lending engine: invalid configuration")
	ErrAssetNotConfigured   = errors.New("lending engine: asset not configured")
	ErrPriceUnavailable     = errors.New("lending engine: price unavailable")
	ErrUnauthorized         = errors.New("lending engine: caller not authorized")
	ErrBackendNotConfigured = errors.New("lending engine: state backend not configured")
	ErrInvalidOwner         = errors.New("lending engine: owner address required")
	errStaleConfigVersion   = errors.New("lending engine: config version must increase")
)

const moduleName = "liquidation"

// Engine runs liquidation and deleverage cascades against the configured
// state backend. All mutating calls are serialised; each position cascade
// commits or rolls back as a unit and its events are emitted only after
// commit.
type Engine struct {
	mu      sync.Mutex
	cfg     *Config
	backend Backend
	oracle  PriceOracle
	shares  ShareConverter
	auth    Authorizer
	emitter events.Emitter
	pauses  nativecommon.PauseView
	logger  *slog.Logger
	metrics *observability.LiquidationMetrics
	tracer  trace.Tracer
}

// NewEngine constructs an engine around the supplied configuration. The
// configuration is validated lazily on every call.
func NewEngine(cfg *Config) *Engine {
	if cfg != nil {
		cfg.EnsureDefaults()
	}
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: observability.Liquidation(),
		tracer:  otel.Tracer("native/lending"),
	}
}

// SetBackend wires the engine to the transactional state collaborators.
func (e *Engine) SetBackend(backend Backend) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backend = backend
}

// SetPriceOracle configures the USD price source.
func (e *Engine) SetPriceOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracle = oracle
}

// SetShareConverter configures the wrapper share conversion source.
func (e *Engine) SetShareConverter(shares ShareConverter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shares = shares
}

// SetAuthorizer configures the deleverage permission check.
func (e *Engine) SetAuthorizer(auth Authorizer) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auth = auth
}

// SetEmitter configures the event sink. A nil emitter discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses installs the pause view consulted before every call.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger.With(slog.String("component", moduleName))
}

// SetConfig swaps in a new configuration. The replacement must validate and
// carry a higher version than the current one.
func (e *Engine) SetConfig(cfg *Config) error {
	if e == nil {
		return nil
	}
	if cfg == nil {
		return fmt.Errorf("%w: configuration missing", ErrInvalidConfig)
	}
	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg != nil && next.Version <= e.cfg.Version {
		return fmt.Errorf("%w: have %d, got %d", errStaleConfigVersion, e.cfg.Version, next.Version)
	}
	e.cfg = next
	return nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() *Config {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// prepare checks the pause guard, collaborators and configuration. Callers
// must hold e.mu.
func (e *Engine) prepare() (*Config, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.backend == nil {
		return nil, ErrBackendNotConfigured
	}
	if e.cfg == nil {
		return nil, fmt.Errorf("%w: configuration missing", ErrInvalidConfig)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return e.cfg, nil
}

func (e *Engine) newCascade(cfg *Config, tx Tx, owner common.Address) *cascade {
	return &cascade{
		cfg:       cfg,
		tx:        tx,
		prices:    newPriceAdapter(cfg, e.oracle, e.shares),
		owner:     owner,
		processed: newProcessedSet(),
		logger:    e.logger,
		remaining: zero(),
		credited:  zero(),
		repaid:    zero(),
		disposals: make(map[StrategyKind]int),
	}
}

// run executes fn inside one transaction and emits the buffered events after
// a successful commit. Callers must hold e.mu.
func (e *Engine) run(ctx context.Context, cfg *Config, owner common.Address, fn func(*cascade) error) (*cascade, error) {
	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	c := e.newCascade(cfg, tx, owner)
	if err := fn(c); err != nil {
		tx.Rollback()
		e.logger.Warn("cascade rolled back",
			slog.String("owner", owner.Hex()),
			slog.Any("error", err))
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("commit: %w", err)
	}
	for _, evt := range c.events {
		e.emitter.Emit(evt)
		observability.Events().RecordEvent(evt.EventType())
	}
	for kind, count := range c.disposals {
		e.metrics.RecordDisposals(kind.String(), count)
	}
	e.metrics.RecordAuctions(c.auctions)
	return c, nil
}

func (e *Engine) liquidateOne(ctx context.Context, cfg *Config, keeper, owner common.Address, wantsStaked bool) (*LiquidationResult, error) {
	if owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}
	var result *LiquidationResult
	_, err := e.run(ctx, cfg, owner, func(c *cascade) error {
		res, err := c.liquidate(keeper, wantsStaked)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.TargetRepay.Sign() == 0 {
		e.logger.Debug("position healthy, nothing to liquidate", slog.String("owner", owner.Hex()))
		return result, nil
	}
	e.metrics.RecordRepaid("liquidate", result.Repaid)
	e.metrics.RecordFees(result.KeeperFee, result.UnpaidFees)
	for _, asset := range result.Depleted {
		e.metrics.RecordDepleted(asset.Hex())
	}
	e.logger.Info("position liquidated",
		slog.String("owner", owner.Hex()),
		slog.String("keeper", keeper.Hex()),
		slog.String("targetRepay", result.TargetRepay.String()),
		slog.String("repaid", result.Repaid.String()),
		slog.String("keeperFee", result.KeeperFee.String()),
		slog.String("unpaidFees", result.UnpaidFees.String()),
		slog.Bool("restoredHealth", result.DidRestoreHealth),
		slog.Int("auctions", result.NumAuctionsStarted))
	return result, nil
}

// Liquidate runs the liquidation cascade for owner and returns its summary. A
// healthy position yields a zero result without touching state.
func (e *Engine) Liquidate(ctx context.Context, keeper, owner common.Address, wantsStaked bool) (result *LiquidationResult, err error) {
	if e == nil {
		return nil, ErrBackendNotConfigured
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "liquidation.liquidate_position",
		trace.WithAttributes(
			attribute.String("owner", owner.Hex()),
			attribute.String("keeper", keeper.Hex()),
		))
	defer span.End()
	defer func() {
		e.metrics.Observe("liquidate", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(
			attribute.String("repaid", result.Repaid.String()),
			attribute.Int("auctions", result.NumAuctionsStarted),
		)
		span.SetStatus(codes.Ok, "settled")
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, err := e.prepare()
	if err != nil {
		return nil, err
	}
	return e.liquidateOne(ctx, cfg, keeper, owner, wantsStaked)
}

// LiquidatePosition liquidates owner and returns the keeper fee in USD.
func (e *Engine) LiquidatePosition(ctx context.Context, keeper, owner common.Address, wantsStaked bool) (*big.Int, error) {
	result, err := e.Liquidate(ctx, keeper, owner, wantsStaked)
	if err != nil {
		return nil, err
	}
	return result.KeeperFee, nil
}

// LiquidateManyPositions liquidates each owner in order inside its own
// transaction. A failing owner is rolled back and reported without affecting
// the others; the returned total covers the owners that settled.
func (e *Engine) LiquidateManyPositions(ctx context.Context, keeper common.Address, owners []common.Address, wantsStaked bool) (total *big.Int, err error) {
	total = zero()
	if len(owners) == 0 {
		return total, nil
	}
	if e == nil {
		return nil, ErrBackendNotConfigured
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "liquidation.liquidate_many",
		trace.WithAttributes(attribute.Int("owners", len(owners))))
	defer span.End()
	defer func() {
		e.metrics.Observe("liquidate_many", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, err := e.prepare()
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, owner := range owners {
		result, ownerErr := e.liquidateOne(ctx, cfg, keeper, owner, wantsStaked)
		if ownerErr != nil {
			errs = append(errs, fmt.Errorf("owner %s: %w", owner.Hex(), ownerErr))
			continue
		}
		total.Add(total, result.KeeperFee)
	}
	return total, errors.Join(errs...)
}

// Deleverage runs the voluntary deleverage cascade. A nil target repays the
// amount needed to reach the buffered target LTV; otherwise the target is
// capped at the outstanding debt.
func (e *Engine) Deleverage(ctx context.Context, caller, owner common.Address, target *big.Int) (result *DeleverageResult, err error) {
	if e == nil {
		return nil, ErrBackendNotConfigured
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "liquidation.deleverage_position",
		trace.WithAttributes(
			attribute.String("owner", owner.Hex()),
			attribute.String("caller", caller.Hex()),
		))
	defer span.End()
	defer func() {
		e.metrics.Observe("deleverage", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(attribute.String("repaid", result.Repaid.String()))
		span.SetStatus(codes.Ok, "settled")
	}()

	if target != nil && target.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative deleverage target", ErrInvalidConfig)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, err := e.prepare()
	if err != nil {
		return nil, err
	}
	if owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}
	if e.auth == nil || !e.auth.CanDeleverage(caller, owner) {
		return nil, ErrUnauthorized
	}
	_, err = e.run(ctx, cfg, owner, func(c *cascade) error {
		res, err := c.deleverage(caller, target)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Repaid.Sign() > 0 {
		e.metrics.RecordRepaid("deleverage", result.Repaid)
		e.logger.Info("position deleveraged",
			slog.String("owner", owner.Hex()),
			slog.String("caller", caller.Hex()),
			slog.String("target", result.TargetRepay.String()),
			slog.String("repaid", result.Repaid.String()),
			slog.Bool("healthy", result.HasGoodDebtHealth))
	}
	return result, nil
}

// DeleveragePosition deleverages owner and returns the USD amount repaid.
func (e *Engine) DeleveragePosition(ctx context.Context, caller, owner common.Address, target *big.Int) (*big.Int, error) {
	result, err := e.Deleverage(ctx, caller, owner, target)
	if err != nil {
		return nil, err
	}
	return result.Repaid, nil
}

// TargetRepay reports the USD repayment a liquidation of owner would aim
// for. State is never modified.
func (e *Engine) TargetRepay(ctx context.Context, owner common.Address) (*big.Int, error) {
	if e == nil {
		return nil, ErrBackendNotConfigured
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return nil, ErrBackendNotConfigured
	}
	if e.cfg == nil {
		return nil, fmt.Errorf("%w: configuration missing", ErrInvalidConfig)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	rec, err := tx.DebtPosition(owner)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Debt == nil || rec.Debt.Sign() <= 0 {
		return zero(), nil
	}
	holdings, err := tx.Holdings(owner)
	if err != nil {
		return nil, err
	}
	collateral, err := newPriceAdapter(e.cfg, e.oracle, e.shares).collateralValue(holdings)
	if err != nil {
		return nil, err
	}
	return ComputeTargetRepay(rec.Debt, collateral, rec.Terms, e.cfg.General), nil
}
