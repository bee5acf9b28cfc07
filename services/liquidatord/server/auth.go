package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"ripecore/observability/logging"
)

type contextKey string

const contextKeyCaller contextKey = "liquidatord.caller"

var (
	errMissingBearer  = errors.New("missing bearer token")
	errSubjectMissing = errors.New("token subject missing")
	errSubjectInvalid = errors.New("token subject is not an address")
)

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	Secret         string
	Issuer         string
	Audience       string
	Leeway         time.Duration
	OracleSubjects []string
}

// Authenticator verifies HS256 bearer tokens whose subject is the caller's
// address.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	oracles  map[common.Address]struct{}
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthenticator builds an authenticator. An empty secret rejects every
// request.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	oracles := make(map[common.Address]struct{}, len(cfg.OracleSubjects))
	for _, subject := range cfg.OracleSubjects {
		trimmed := strings.TrimSpace(subject)
		if common.IsHexAddress(trimmed) {
			oracles[common.HexToAddress(trimmed)] = struct{}{}
		}
	}
	return &Authenticator{
		secret:   []byte(strings.TrimSpace(cfg.Secret)),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		oracles:  oracles,
		logger:   logger,
		now:      time.Now,
	}
}

// Verify parses token and returns the caller address it names.
func (a *Authenticator) Verify(token string) (common.Address, error) {
	if len(a.secret) == 0 {
		return common.Address{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(a.leeway))
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !parsed.Valid {
		return common.Address{}, errors.New("token validation failed")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return common.Address{}, errSubjectMissing
	}
	if !common.IsHexAddress(subject) {
		return common.Address{}, errSubjectInvalid
	}
	return common.HexToAddress(subject), nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller address in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := extractBearer(header)
		if token == "" {
			writeError(w, http.StatusUnauthorized, errMissingBearer)
			return
		}
		caller, err := a.Verify(token)
		if err != nil {
			a.logger.Warn("token rejected",
				logging.MaskField("authorization", header),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOracle only admits callers listed as oracle publishers.
func (a *Authenticator) RequireOracle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, errMissingBearer)
			return
		}
		if _, allowed := a.oracles[caller]; !allowed {
			writeError(w, http.StatusForbidden, errors.New("caller may not publish prices"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallerFromContext returns the authenticated caller address.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(common.Address)
	return caller, ok
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
