package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDBrowser is the identifier for the browser launch section
	SectionIDBrowser = "browser"

	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
)

// BrowserSection configures how the session browser is launched.
type BrowserSection struct {
	// Channel selects an installed browser ("chrome", "msedge"); empty uses the bundled Chromium.
	Channel      string
	WindowWidth  int
	WindowHeight int
	// SlowMo is the pause in milliseconds between driver operations.
	SlowMo int
	mu     sync.RWMutex
}

// NewBrowserSection creates a browser section with defaults.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.Reset()
	return s
}

func (s *BrowserSection) ID() string    { return SectionIDBrowser }
func (s *BrowserSection) Title() string { return "Browser" }
func (s *BrowserSection) Description() string {
	return "Browser channel, session window size and driver pacing."
}

func (s *BrowserSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"channel":       s.Channel,
		"window_width":  s.WindowWidth,
		"window_height": s.WindowHeight,
		"slow_mo":       s.SlowMo,
	}
}

func (s *BrowserSection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "channel":
			s.Channel, err = stringValue(key, value)
		case "window_width":
			s.WindowWidth, err = intValue(key, value)
		case "window_height":
			s.WindowHeight, err = intValue(key, value)
		case "slow_mo":
			s.SlowMo, err = intValue(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.WindowWidth <= 0 || s.WindowHeight <= 0 {
		return fmt.Errorf("window size must be positive, got %dx%d", s.WindowWidth, s.WindowHeight)
	}
	if s.SlowMo < 0 {
		return fmt.Errorf("slow_mo must not be negative, got %d", s.SlowMo)
	}
	return nil
}

func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Channel = ""
	s.WindowWidth = defaultWindowWidth
	s.WindowHeight = defaultWindowHeight
	s.SlowMo = 0
}

// WindowSize returns the configured session window size.
func (s *BrowserSection) WindowSize() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WindowWidth, s.WindowHeight
}

// Launch returns the browser channel and driver pacing.
func (s *BrowserSection) Launch() (string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Channel, s.SlowMo
}
