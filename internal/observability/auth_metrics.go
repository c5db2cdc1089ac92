package observability

import "time"

// The methods below let *Prom serve as auth.Metrics.

func (p *Prom) LoginResult(result string) {
	p.LoginResults.WithLabelValues(result).Inc()
}

func (p *Prom) AccountLocked() {
	p.Lockouts.Inc()
}

func (p *Prom) ObserveHash(d time.Duration) {
	p.HashDuration.Observe(d.Seconds())
}

func (p *Prom) RefreshResult(result string) {
	p.RefreshResults.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveSweep(removed int) {
	p.SessionsSwept.Add(float64(removed))
}

func (p *Prom) IncRateLimited(scope string) {
	p.RateLimited.WithLabelValues(scope).Inc()
}
