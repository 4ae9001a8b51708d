package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/park285/chess-arena-server/internal/obslog"
)

// ipLimiter throttles connection attempts per client IP with a token bucket
// each. Buckets that refill completely are dropped by a background sweep so
// the map does not grow with every visitor ever seen.
type ipLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
	r       rate.Limit
	b       int
}

func newIPLimiter(r rate.Limit, b int) *ipLimiter {
	l := &ipLimiter{
		buckets: make(map[string]*rate.Limiter),
		r:       r,
		b:       b,
	}
	go l.sweep()
	return l
}

func (l *ipLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.buckets[ip]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.buckets[ip]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.r, l.b)
	l.buckets[ip] = lim
	return lim
}

func (l *ipLimiter) sweep() {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		removed := 0
		for ip, lim := range l.buckets {
			if lim.TokensAt(time.Now()) >= float64(lim.Burst()) {
				delete(l.buckets, ip)
				removed++
			}
		}
		remaining := len(l.buckets)
		l.mu.Unlock()
		obslog.L().Debug("rate_limiter_sweep",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining),
		)
	}
}

// middleware rejects over-limit requests with 429.
func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			ip = "unknown"
		}

		if !l.limiterFor(ip).Allow() {
			obslog.L().Warn("rate_limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
