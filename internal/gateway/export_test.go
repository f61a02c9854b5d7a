package gateway

import "time"

// SetClock replaces the limiter clock.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }
