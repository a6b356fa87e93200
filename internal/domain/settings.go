package domain

import "sync"

// Settings holds the runtime-mutable search defaults shared across requests.
// It is injected into the pipeline rather than read as process globals, so
// tests and individual requests can override it deterministically.
type Settings struct {
	mu             sync.RWMutex
	augmentation   bool
	robustRecovery bool
}

// NewSettings creates runtime settings with the given initial defaults.
func NewSettings(augmentation, robustRecovery bool) *Settings {
	return &Settings{augmentation: augmentation, robustRecovery: robustRecovery}
}

// SettingsSnapshot is an immutable copy of the settings taken per request.
type SettingsSnapshot struct {
	Augmentation   bool
	RobustRecovery bool
}

// Snapshot returns a consistent copy of the current settings.
func (s *Settings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SettingsSnapshot{Augmentation: s.augmentation, RobustRecovery: s.robustRecovery}
}

// SetAugmentation updates the global augmentation default.
func (s *Settings) SetAugmentation(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.augmentation = enabled
}

// SetRobustRecovery updates the global region-based reranking default.
func (s *Settings) SetRobustRecovery(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.robustRecovery = enabled
}
