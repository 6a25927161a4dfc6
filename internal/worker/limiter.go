package worker

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outbound source requests per host. Besides the steady
// token bucket, a host can be paused until a quota reset it announced.
type Limiter struct {
	mu    sync.Mutex
	hosts map[string]*hostQuota
	every rate.Limit
	burst int
	now   func() time.Time
}

type hostQuota struct {
	bucket *rate.Limiter
	resume time.Time
}

// NewLimiter creates a limiter allowing requestsPerSecond per host.
// A non-positive rate disables pacing; pauses still apply.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	every := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		every = rate.Inf
	}
	return &Limiter{
		hosts: make(map[string]*hostQuota),
		every: every,
		burst: burst,
		now:   time.Now,
	}
}

// Wait blocks until a request to rawURL's host may be sent
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := extractHost(rawURL)
	if err != nil {
		return err
	}
	bucket, resume := l.quota(host)
	if d := resume.Sub(l.now()); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return bucket.Wait(ctx)
}

// Allow reports whether a request to rawURL's host may be sent now,
// consuming a token when it may
func (l *Limiter) Allow(rawURL string) bool {
	host, err := extractHost(rawURL)
	if err != nil {
		return false
	}
	bucket, resume := l.quota(host)
	if l.now().Before(resume) {
		return false
	}
	return bucket.Allow()
}

// Pause holds requests to host until the given time. An earlier time
// than an existing pause is ignored.
func (l *Limiter) Pause(host string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.hostLocked(host)
	if until.After(q.resume) {
		q.resume = until
	}
}

// PausedUntil returns the time requests to host resume, zero if unpaused
func (l *Limiter) PausedUntil(host string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.hosts[host]; ok && l.now().Before(q.resume) {
		return q.resume
	}
	return time.Time{}
}

func (l *Limiter) quota(host string) (*rate.Limiter, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.hostLocked(host)
	return q.bucket, q.resume
}

func (l *Limiter) hostLocked(host string) *hostQuota {
	q, ok := l.hosts[host]
	if !ok {
		q = &hostQuota{bucket: rate.NewLimiter(l.every, l.burst)}
		l.hosts[host] = q
	}
	return q
}

func extractHost(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}
