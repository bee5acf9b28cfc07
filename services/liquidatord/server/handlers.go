package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	nativecommon "ripecore/native/common"
	"ripecore/native/lending"
	"ripecore/storage/journal"
)

type liquidateRequest struct {
	Staked bool `json:"staked"`
}

type batchRequest struct {
	Owners []string `json:"owners"`
	Staked bool     `json:"staked"`
}

type deleverageRequest struct {
	TargetRepay string `json:"targetRepay,omitempty"`
}

type priceUpdate struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type shareRateUpdate struct {
	Wrapper    string `json:"wrapper"`
	Decimals   uint8  `json:"decimals"`
	Optimistic string `json:"optimistic"`
	Safe       string `json:"safe"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

type pricesRequest struct {
	Prices     []priceUpdate     `json:"prices"`
	ShareRates []shareRateUpdate `json:"shareRates"`
}

type liquidationResponse struct {
	Owner              string   `json:"owner"`
	TargetRepay        string   `json:"targetRepay"`
	Repaid             string   `json:"repaid"`
	KeeperFee          string   `json:"keeperFee"`
	TotalFees          string   `json:"totalFees"`
	UnpaidFees         string   `json:"unpaidFees"`
	DidRestoreHealth   bool     `json:"didRestoreHealth"`
	NumAuctionsStarted int      `json:"numAuctionsStarted"`
	Depleted           []string `json:"depleted,omitempty"`
}

type batchResponse struct {
	KeeperFee string   `json:"keeperFee"`
	Failures  []string `json:"failures,omitempty"`
}

type deleverageResponse struct {
	Owner             string `json:"owner"`
	Caller            string `json:"caller"`
	TargetRepay       string `json:"targetRepay"`
	Repaid            string `json:"repaid"`
	HasGoodDebtHealth bool   `json:"hasGoodDebtHealth"`
}

type eventResponse struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	RecordedAt time.Time         `json:"recordedAt"`
	Attributes map[string]string `json:"attributes"`
}

// LiquidatePosition liquidates one position with the caller as keeper.
func (s *Server) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := s.callerAndOwner(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.engine.Liquidate(r.Context(), caller, owner, req.Staked)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationResponse(result))
}

// LiquidateBatch liquidates several positions. Per-owner failures are
// reported without failing the request.
func (s *Server) LiquidateBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errMissingBearer)
		return
	}
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Owners) > maxBatchOwners {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at most %d owners per batch", maxBatchOwners))
		return
	}
	owners := make([]common.Address, 0, len(req.Owners))
	for _, raw := range req.Owners {
		owner, err := parseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		owners = append(owners, owner)
	}
	total, err := s.engine.LiquidateManyPositions(r.Context(), caller, owners, req.Staked)
	if total == nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp := batchResponse{KeeperFee: total.String()}
	if err != nil {
		resp.Failures = splitJoined(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleveragePosition runs a voluntary deleverage on behalf of the caller.
func (s *Server) DeleveragePosition(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := s.callerAndOwner(w, r)
	if !ok {
		return
	}
	var req deleverageRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var target *big.Int
	if strings.TrimSpace(req.TargetRepay) != "" {
		parsed, err := parseAmount(req.TargetRepay)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("targetRepay: %w", err))
			return
		}
		target = parsed
	}
	result, err := s.engine.Deleverage(r.Context(), caller, owner, target)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleverageResponse{
		Owner:             result.Owner.Hex(),
		Caller:            result.Caller.Hex(),
		TargetRepay:       amountString(result.TargetRepay),
		Repaid:            amountString(result.Repaid),
		HasGoodDebtHealth: result.HasGoodDebtHealth,
	})
}

// TargetRepay reports the repayment a liquidation would aim for.
func (s *Server) TargetRepay(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target, err := s.engine.TargetRepay(r.Context(), owner)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner.Hex(), "targetRepay": amountString(target)})
}

// PositionEvents lists journaled events for one owner.
func (s *Server) PositionEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, errors.New("event journal not configured"))
		return
	}
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	filter := journal.Filter{Owner: owner.Hex(), Type: strings.TrimSpace(r.URL.Query().Get("type"))}
	if raw := r.URL.Query().Get("after"); raw != "" {
		if filter.AfterID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("after: %w", err))
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
	}
	entries, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Attrs()
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		out = append(out, eventResponse{
			Seq:        entry.ID,
			ID:         entry.EventID.String(),
			Type:       entry.Type,
			RecordedAt: entry.RecordedAt,
			Attributes: attrs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// PublishPrices records oracle prices and wrapper share rates. Updates are
// applied in order and the first failure stops the request.
func (s *Server) PublishPrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusNotFound, errors.New("price feed not configured"))
		return
	}
	var req pricesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	applied := 0
	for _, update := range req.Prices {
		asset, err := parseAddress(update.Asset)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		price, err := parseAmount(update.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("price for %s: %w", asset.Hex(), err))
			return
		}
		if err := s.prices.Publish(asset, price, unixOrZero(update.Timestamp)); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		applied++
	}
	for _, update := range req.ShareRates {
		wrapper, err := parseAddress(update.Wrapper)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		optimistic, err := parseAmount(update.Optimistic)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("optimistic rate: %w", err))
			return
		}
		safe, err := parseAmount(update.Safe)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("safe rate: %w", err))
			return
		}
		if err := s.prices.PublishShareRate(wrapper, update.Decimals, optimistic, safe, unixOrZero(update.Timestamp)); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		applied++
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

// Healthz reports liveness and journal connectivity.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if s.events != nil {
		if err := s.events.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("journal: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) callerAndOwner(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errMissingBearer)
		return common.Address{}, common.Address{}, false
	}
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return common.Address{}, common.Address{}, false
	}
	return caller, owner, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lending.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrInvalidOwner):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrPriceUnavailable), errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrInvalidConfig),
		errors.Is(err, lending.ErrInvalidDebtTerms),
		errors.Is(err, lending.ErrInvalidAuctionParams),
		errors.Is(err, lending.ErrSwapAssetWithoutLTV),
		errors.Is(err, lending.ErrAssetNotConfigured):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func toLiquidationResponse(result *lending.LiquidationResult) liquidationResponse {
	resp := liquidationResponse{
		Owner:              result.Owner.Hex(),
		TargetRepay:        amountString(result.TargetRepay),
		Repaid:             amountString(result.Repaid),
		KeeperFee:          amountString(result.KeeperFee),
		TotalFees:          amountString(result.TotalFees),
		UnpaidFees:         amountString(result.UnpaidFees),
		DidRestoreHealth:   result.DidRestoreHealth,
		NumAuctionsStarted: result.NumAuctionsStarted,
	}
	for _, asset := range result.Depleted {
		resp.Depleted = append(resp.Depleted, asset.Hex())
	}
	return resp
}

// splitJoined flattens an errors.Join result into its messages.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, inner := range joined.Unwrap() {
			out = append(out, inner.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// decodeOptionalJSON tolerates an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
