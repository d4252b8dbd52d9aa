package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

const (
	// SectionIDHardening is the identifier for the request hardening section
	SectionIDHardening = "hardening"

	// DefaultUserAgent is a current desktop Chrome on macOS.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// DefaultIdentityUserAgent is sent to identity providers, which reject embedded Chrome.
	DefaultIdentityUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Safari/537.36"

	// DefaultLocale is used when neither the configuration nor the
	// environment names a UI locale.
	DefaultLocale = "en-US"
)

// HardeningSection holds the header values every session partition presents.
type HardeningSection struct {
	UserAgent         string
	IdentityUserAgent string
	Locale            string
	mu                sync.RWMutex
}

// NewHardeningSection creates a hardening section with defaults.
func NewHardeningSection() *HardeningSection {
	s := &HardeningSection{}
	s.Reset()
	return s
}

func (s *HardeningSection) ID() string    { return SectionIDHardening }
func (s *HardeningSection) Title() string { return "Request hardening" }
func (s *HardeningSection) Description() string {
	return "User-Agent strings and UI locale sent by session partitions."
}

func (s *HardeningSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"user_agent":          s.UserAgent,
		"identity_user_agent": s.IdentityUserAgent,
		"locale":              s.Locale,
	}
}

func (s *HardeningSection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "user_agent":
			s.UserAgent, err = stringValue(key, value)
		case "identity_user_agent":
			s.IdentityUserAgent, err = stringValue(key, value)
		case "locale":
			s.Locale, err = stringValue(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *HardeningSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.UserAgent == "" || s.IdentityUserAgent == "" {
		return fmt.Errorf("user agents must not be empty")
	}
	if s.Locale != "" {
		if _, err := language.Parse(s.Locale); err != nil {
			return fmt.Errorf("invalid locale %q: %w", s.Locale, err)
		}
	}
	return nil
}

func (s *HardeningSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserAgent = DefaultUserAgent
	s.IdentityUserAgent = DefaultIdentityUserAgent
	s.Locale = SystemLocale()
}

// SystemLocale returns the UI locale of the environment as a BCP 47 tag.
// The first of LC_ALL, LC_MESSAGES and LANG that is set decides; the C and
// POSIX locales and unparseable values give DefaultLocale.
func SystemLocale() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if tag, ok := parseEnvLocale(v); ok {
			return tag
		}
		break
	}
	return DefaultLocale
}

// parseEnvLocale turns a POSIX locale such as de_DE.UTF-8@euro into de-DE.
func parseEnvLocale(v string) (string, bool) {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	if v == "" || v == "C" || v == "POSIX" {
		return "", false
	}
	tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
	if err != nil {
		return "", false
	}
	return tag.String(), true
}

// Values returns the user agent, identity user agent and locale.
func (s *HardeningSection) Values() (string, string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserAgent, s.IdentityUserAgent, s.Locale
}
