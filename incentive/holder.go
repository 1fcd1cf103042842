package incentive

import (
	"sync"
	"sync/atomic"
	"time"
)

// Holder publishes the current Settings. Reads are a single atomic load;
// Replace swaps the whole snapshot so no reader sees a half-written policy.
type Holder struct {
	current atomic.Pointer[Settings]
	writeMu sync.Mutex // single writer
}

// NewHolder starts with s as the current settings.
func NewHolder(s Settings) *Holder {
	h := &Holder{}
	h.current.Store(&s)
	return h
}

// Current returns the settings in effect.
func (h *Holder) Current() Settings {
	return *h.current.Load()
}

// Replace validates s, stamps it as the next version and publishes it.
// persist runs before publication; if it fails the current settings are
// left untouched. persist may be nil.
func (h *Holder) Replace(s Settings, now time.Time, persist func(Settings) error) (Settings, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	s.Version = h.Current().Version + 1
	s.EffectiveAt = now.UTC()

	if persist != nil {
		if err := persist(s); err != nil {
			return Settings{}, err
		}
	}
	h.current.Store(&s)
	return s, nil
}

// Restore publishes an already persisted version, e.g. at startup.
func (h *Holder) Restore(s Settings) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.current.Store(&s)
}
