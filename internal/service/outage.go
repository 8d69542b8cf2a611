package service

import (
	"sync"
	"time"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

const (
	defaultOutageCooldown = 5 * time.Minute
	alertTimeout          = 15 * time.Second
)

// Option configures an OracleService.
type Option func(*OracleService)

// WithOutageCooldown sets the minimum gap between two outage alerts for the
// same identifier. Zero alerts on every failure.
func WithOutageCooldown(d time.Duration) Option {
	return func(s *OracleService) {
		s.outages.cooldown = d
	}
}

// outageThrottle remembers when each identifier last raised an alert.
type outageThrottle struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[domain.Identifier]time.Time
	now      func() time.Time
}

func newOutageThrottle() *outageThrottle {
	return &outageThrottle{
		cooldown: defaultOutageCooldown,
		last:     make(map[domain.Identifier]time.Time),
		now:      time.Now,
	}
}

// allow reports whether identifier may alert now and, if so, starts its
// cooldown.
func (t *outageThrottle) allow(identifier domain.Identifier) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[identifier]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.last[identifier] = now
	return true
}
