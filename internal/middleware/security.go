package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"licensegate/internal/auth"
	apperrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/ratelimit"
	"licensegate/pkg/contracts/domain"
)

// TokenParser verifies a bearer token and returns the operator it names
type TokenParser interface {
	Parse(raw string) (domain.Actor, error)
}

// Authenticate attaches the request's actor to the context. A valid bearer
// token yields its operator. A missing or invalid token leaves the request
// anonymous, and operations that need an operator reject and audit it.
func Authenticate(tokens TokenParser, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = infrastructure.WithComponent(logger, "auth_middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := domain.Actor{Kind: domain.ActorAnonymous}

			if raw, ok := bearerToken(r); ok {
				parsed, err := tokens.Parse(raw)
				if err != nil {
					infrastructure.LoggerWithContext(ctx, logger).WarnContext(ctx, "rejected bearer token",
						slog.String("error", err.Error()),
						slog.String("path", r.URL.Path),
						slog.String("remote_addr", GetRealIP(r)),
					)
				} else {
					actor = parsed
				}
			}
			actor.RemoteAddr = GetRealIP(r)

			next.ServeHTTP(w, r.WithContext(auth.WithActor(ctx, actor)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RateLimit rejects clients that exceed limiter with a 429 problem. Limiter
// errors are logged and the request is admitted.
func RateLimit(limiter ratelimit.Limiter, errHandler *apperrors.ErrorHandler, onReject RejectFunc, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = infrastructure.WithComponent(logger, "rate_limit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := GetRealIP(r)

			decision, err := limiter.Allow(ctx, key)
			if err != nil {
				infrastructure.LoggerWithContext(ctx, logger).WarnContext(ctx, "rate limiter unavailable, admitting request",
					slog.String("error", err.Error()),
				)
			}
			if decision.Allowed {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Remaining", "0")

			infrastructure.LoggerWithContext(ctx, logger).WarnContext(ctx, "rate limit exceeded",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", key),
			)
			onReject.reject(r, apperrors.ErrRateLimitExceeded)
			errHandler.HandleError(w, r, apperrors.ErrRateLimitExceeded)
		})
	}
}
