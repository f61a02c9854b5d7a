package config

import "sync/atomic"

// Live holds the active config and swaps it atomically on reload.
type Live struct {
	cur atomic.Pointer[Config]
}

func NewLive(cfg Config) *Live {
	l := &Live{}
	l.cur.Store(&cfg)
	return l
}

// Get returns a copy of the active config.
func (l *Live) Get() Config {
	return *l.cur.Load()
}

// Reload re-reads the file behind the active config. On failure the active
// config is kept and the error returned.
func (l *Live) Reload() (Config, error) {
	next, err := Load(l.Get().Path)
	if err != nil {
		return l.Get(), err
	}
	l.cur.Store(&next)
	return next, nil
}
