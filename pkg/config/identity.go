package config

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

const (
	// SectionIDIdentity is the identifier for the identity-provider section
	SectionIDIdentity = "identity"

	defaultCompanionWidth  = 900
	defaultCompanionHeight = 680
)

// DefaultIdentityPatterns are the host globs treated as federated-login providers.
var DefaultIdentityPatterns = []string{
	"accounts.google.com",
	"*.accounts.google.com",
	"id.google.com",
	"*.id.google.com",
}

// IdentitySection configures which hosts count as identity providers and how
// the login companion window is sized.
type IdentitySection struct {
	Patterns        []string
	CompanionWidth  int
	CompanionHeight int
	mu              sync.RWMutex
}

// NewIdentitySection creates an identity section with defaults.
func NewIdentitySection() *IdentitySection {
	s := &IdentitySection{}
	s.Reset()
	return s
}

func (s *IdentitySection) ID() string    { return SectionIDIdentity }
func (s *IdentitySection) Title() string { return "Identity providers" }
func (s *IdentitySection) Description() string {
	return "Host patterns routed through the login companion window."
}

func (s *IdentitySection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"patterns":         append([]string(nil), s.Patterns...),
		"companion_width":  s.CompanionWidth,
		"companion_height": s.CompanionHeight,
	}
}

func (s *IdentitySection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "patterns":
			s.Patterns, err = stringSliceValue(key, value)
		case "companion_width":
			s.CompanionWidth, err = intValue(key, value)
		case "companion_height":
			s.CompanionHeight, err = intValue(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate compiles every pattern so a bad glob fails at save time, not at the first popup.
func (s *IdentitySection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.Patterns {
		if _, err := glob.Compile(p, '.'); err != nil {
			return fmt.Errorf("invalid identity pattern %q: %w", p, err)
		}
	}
	if s.CompanionWidth <= 0 || s.CompanionHeight <= 0 {
		return fmt.Errorf("companion size must be positive, got %dx%d", s.CompanionWidth, s.CompanionHeight)
	}
	return nil
}

func (s *IdentitySection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Patterns = append([]string(nil), DefaultIdentityPatterns...)
	s.CompanionWidth = defaultCompanionWidth
	s.CompanionHeight = defaultCompanionHeight
}

// GetPatterns returns a copy of the configured host patterns.
func (s *IdentitySection) GetPatterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.Patterns...)
}

// CompanionSize returns the login companion window size.
func (s *IdentitySection) CompanionSize() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CompanionWidth, s.CompanionHeight
}
