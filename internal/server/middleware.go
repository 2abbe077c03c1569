package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LocalOwner is the owner used when no API keys are configured.
const LocalOwner = "local"

type ownerKey struct{}

// OwnerFrom returns the authenticated owner stored on ctx.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// authenticate resolves the bearer token to an owner. With no keys
// configured every request runs as LocalOwner.
func authenticate(owners map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := LocalOwner
			if len(owners) > 0 {
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				owner = owners[strings.TrimSpace(token)]
				if !ok || owner == "" {
					respondError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
		})
	}
}

// limiter keeps one token bucket per caller.
type limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	callers map[string]*callerLimiter
}

type callerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

const limiterIdleTimeout = time.Hour

func newLimiter(rps float64, burst int) *limiter {
	if burst <= 0 {
		burst = int(rps * 2)
	}
	if burst < 1 {
		burst = 1
	}
	return &limiter{rps: rate.Limit(rps), burst: burst, callers: make(map[string]*callerLimiter)}
}

func (l *limiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.callers[key]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.callers[key] = c
	}
	c.lastAccess = now
	return c.limiter.AllowN(now, 1)
}

// sweep drops callers idle longer than limiterIdleTimeout.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, c := range l.callers {
		if now.Sub(c.lastAccess) > limiterIdleTimeout {
			delete(l.callers, k)
		}
	}
}

// rateLimit throttles per owner, falling back to the client address.
func (l *limiter) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := OwnerFrom(r.Context())
		if key == "" || key == LocalOwner {
			key = clientIP(r)
		}
		if !l.allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
