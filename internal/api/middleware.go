package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/auth"
	"github.com/tinywideclouds/go-push-relay/internal/ratelimit"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
)

const maxBodyBytes = 1 << 20

// RelayKeySource yields the relay's current Ed25519 public key.
type RelayKeySource interface {
	PublicKey(ctx context.Context) (ed25519.PublicKey, error)
}

// SignatureMiddleware rejects requests whose body is not signed by the relay.
// The body is buffered and restored so the next handler can read it again.
func SignatureMiddleware(keys RelayKeySource, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "SignatureMiddleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signature := r.Header.Get(auth.SignatureHeader)
			timestamp := r.Header.Get(auth.TimestampHeader)
			switch {
			case signature == "" && timestamp == "":
				writeError(w, r, logger, relayerr.New(relayerr.KindMissingSignatureAndTimestamp, nil))
				return
			case signature == "":
				writeError(w, r, logger, relayerr.New(relayerr.KindMissingSignature, nil))
				return
			case timestamp == "":
				writeError(w, r, logger, relayerr.New(relayerr.KindMissingTimestamp, nil))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, r, logger, relayerr.Newf(relayerr.KindInvalidBody, "failed to read body: %w", err))
				return
			}

			key, err := keys.PublicKey(r.Context())
			if err != nil {
				writeError(w, r, logger, relayerr.New(relayerr.KindRelayKeyUnavailable, err))
				return
			}

			ok, err := auth.VerifySignature(signature, timestamp, body, key)
			if err != nil {
				if relayerr.Is(err, relayerr.KindSignatureDecode) {
					writeError(w, r, logger, err)
				} else {
					writeError(w, r, logger, relayerr.New(relayerr.KindRelayKeyUnavailable, err))
				}
				return
			}
			if !ok {
				logger.Warn("Rejected webhook with invalid signature", "path", r.URL.Path)
				writeError(w, r, logger, relayerr.New(relayerr.KindInvalidSignature, nil))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware applies limiter per client address. Requests whose
// address cannot be determined share fallbackKey. Limiter failures let the
// request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, fallbackKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "RateLimitMiddleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r, fallbackKey)
			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("Rate limiter unavailable, allowing request", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			writeRateLimitHeaders(w, decision, time.Now())
			if !decision.Allowed {
				writeError(w, r, logger, relayerr.Newf(relayerr.KindRateLimited, "rate limit exceeded for %s", key))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey picks the first parseable X-Forwarded-For entry, then the
// connection's remote host, then fallback.
func clientKey(r *http.Request, fallback string) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return fallback
}

func writeRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision, now time.Time) {
	h := w.Header()
	if d.Limit > 0 {
		h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	}
	if d.Remaining >= 0 {
		h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	}
	if !d.ResetAt.IsZero() {
		h.Set("RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed {
		retry := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
		if retry < 0 {
			retry = 0
		}
		h.Set("Retry-After", strconv.Itoa(retry))
	}
}
