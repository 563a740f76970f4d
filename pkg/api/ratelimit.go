package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiter hands out one token-bucket rate.Limiter per client key,
// sized by requestsPerSecond/burst, the way the router bounds vote
// candidate concurrency with a fixed-size pool — here keyed dynamically
// per caller instead of by a fixed candidate list.
type clientLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClientLimiter(requestsPerSecond float64, burst int) *clientLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &clientLimiter{
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the request identified by key may proceed,
// consuming one token from that key's bucket if so.
func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// clientKey resolves the rate-limit/client-scoping key for r: the
// left-most X-Forwarded-For hop when the direct peer is a trusted
// proxy, otherwise the direct remote address, per spec.md §4.9's
// "trusted-proxy-aware X-Forwarded-For handling".
func (s *Server) clientKey(r *http.Request) string {
	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteHost = r.RemoteAddr
	}
	remoteIP := net.ParseIP(remoteHost)
	if remoteIP == nil || !s.isTrustedProxy(remoteIP) {
		return remoteHost
	}
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return remoteHost
	}
	first := strings.TrimSpace(strings.Split(fwd, ",")[0])
	if first == "" {
		return remoteHost
	}
	return first
}

func (s *Server) isTrustedProxy(ip net.IP) bool {
	for _, cidr := range s.trustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
