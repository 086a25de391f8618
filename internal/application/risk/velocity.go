package risk

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// VelocityConfig bounds how many signals one wallet may source in a window.
type VelocityConfig struct {
	MaxSignals int           `yaml:"max_signals"`
	Window     time.Duration `yaml:"window"`
}

// velocity keeps one token bucket per wallet. A signal takes a token from
// every contributing wallet or from none.
type velocity struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newVelocity(cfg VelocityConfig) *velocity {
	return &velocity{
		limit:    rate.Every(cfg.Window / time.Duration(cfg.MaxSignals)),
		burst:    cfg.MaxSignals,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (v *velocity) limiter(wallet string) *rate.Limiter {
	lim, ok := v.limiters[wallet]
	if !ok {
		lim = rate.NewLimiter(v.limit, v.burst)
		v.limiters[wallet] = lim
	}
	return lim
}

// take consumes one token per wallet at now. If any wallet is over its rate
// nothing is consumed and the offending wallet is returned. The returned
// refund gives the tokens back.
func (v *velocity) take(wallets []string, now time.Time) (refund func(), offender string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	taken := make([]*rate.Reservation, 0, len(wallets))
	cancel := func() {
		for _, r := range taken {
			r.CancelAt(now)
		}
	}
	for _, w := range wallets {
		r := v.limiter(w).ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			cancel()
			return nil, w, false
		}
		taken = append(taken, r)
	}
	return cancel, "", true
}
