package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// NewDefaultManager builds a manager over store with the browser, identity
// and hardening sections registered and loaded.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)
	for _, section := range []Section{
		NewBrowserSection(),
		NewIdentitySection(),
		NewHardeningSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}
	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	return manager, nil
}

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}
	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

func globalSection[T Section](id string, fallback func() T) T {
	if !IsInitialized() {
		return fallback()
	}
	section, ok := Global().GetSection(id)
	if !ok {
		return fallback()
	}
	typed, ok := section.(T)
	if !ok {
		return fallback()
	}
	return typed
}

// GetBrowser returns the browser section, or defaults when config is not initialized.
func GetBrowser() *BrowserSection {
	return globalSection(SectionIDBrowser, NewBrowserSection)
}

// GetIdentity returns the identity section, or defaults when config is not initialized.
func GetIdentity() *IdentitySection {
	return globalSection(SectionIDIdentity, NewIdentitySection)
}

// GetHardening returns the hardening section, or defaults when config is not initialized.
func GetHardening() *HardeningSection {
	return globalSection(SectionIDHardening, NewHardeningSection)
}
