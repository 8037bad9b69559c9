package server

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/ragvec-go/internal/logging"
)

// Per-client limits applied when Config leaves them zero.
const (
	// defaultRateLimit is the sustained requests per second on /api/*.
	defaultRateLimit = 10
	// defaultRateBurst is the request burst on /api/*.
	defaultRateBurst = 20
	// defaultIngestRate is the sustained documents per second accepted by
	// POST /api/documents.
	defaultIngestRate = 50
	// defaultIngestBurst is the document burst, and so the largest batch a
	// single request may carry.
	defaultIngestBurst = 500
)

// Label values for ragvec_http_rate_limited_total.
const (
	limitRequests  = "requests"
	limitDocuments = "documents"
)

// idleClientTTL is how long a client's bucket is kept without traffic.
const idleClientTTL = 5 * time.Minute

// bucket is one client's token bucket and when it was last charged.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps a token bucket per client IP. A charge may draw more
// than one token, which is how ingestion is billed per document.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
	// now is the clock; tests replace it.
	now func() time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// allowN spends n tokens from ip's bucket if they are available now.
// A charge larger than the burst never succeeds.
func (l *clientLimiter) allowN(ip string, n int) bool {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, n)
}

// evict drops buckets idle since before cutoff and returns how many went.
func (l *clientLimiter) evict(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
			n++
		}
	}
	return n
}

// retryAfter is the whole number of seconds, at least one, needed to refill
// n tokens at rps.
func (l *clientLimiter) retryAfter(n int) int {
	if l.rps <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(float64(n)/float64(l.rps))))
}

// startEviction sweeps idle buckets from every limiter once a minute until
// the returned stop function is called.
func startEviction(log *slog.Logger, limiters ...*clientLimiter) func() {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case now := <-ticker.C:
				evicted := 0
				for _, l := range limiters {
					evicted += l.evict(now.Add(-idleClientTTL))
				}
				if evicted > 0 {
					log.Debug("rate limiter: evicted idle clients", slog.Int("clients", evicted))
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }
}

// limitRequests charges one request token per call before delegating to next.
func (s *Server) limitRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.requestLimit.allowN(ip, 1) {
			s.rejectRateLimited(w, r, limitRequests, ip, s.requestLimit.retryAfter(1))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chargeDocuments draws one ingest token per document in the batch and
// writes the rejection itself when the charge fails. A batch larger than the
// burst can never be admitted, so it is answered 413 rather than 429.
func (s *Server) chargeDocuments(w http.ResponseWriter, r *http.Request, n int) bool {
	if n > s.cfg.IngestBurst {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d documents exceeds the limit of %d per request", n, s.cfg.IngestBurst))
		return false
	}
	ip := clientIP(r)
	if !s.docLimit.allowN(ip, n) {
		s.rejectRateLimited(w, r, limitDocuments, ip, s.docLimit.retryAfter(n))
		return false
	}
	return true
}

// rejectRateLimited answers 429 with a Retry-After hint and records the
// rejection under the named limit.
func (s *Server) rejectRateLimited(w http.ResponseWriter, r *http.Request, limit, ip string, retry int) {
	s.metrics.rateLimitedTotal.WithLabelValues(limit).Inc()
	logging.FromContext(r.Context()).Warn("rate limit exceeded",
		slog.String("limit", limit),
		slog.String("ip", ip),
	)
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSONError(w, r, http.StatusTooManyRequests, limit+" rate limit exceeded")
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
