package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetGlobal(t *testing.T) {
	t.Helper()
	globalMu.Lock()
	globalManager = nil
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalManager = nil
		globalMu.Unlock()
	})
}

func clearLocaleEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		t.Setenv(name, "")
	}
}

func TestGettersBeforeInitialize(t *testing.T) {
	resetGlobal(t)
	clearLocaleEnv(t)

	assert.False(t, IsInitialized())
	assert.Panics(t, func() { Global() })

	w, h := GetBrowser().WindowSize()
	assert.Equal(t, defaultWindowWidth, w)
	assert.Equal(t, defaultWindowHeight, h)
	assert.Equal(t, DefaultIdentityPatterns, GetIdentity().GetPatterns())
	_, _, locale := GetHardening().Values()
	assert.Equal(t, DefaultLocale, locale)
}

func TestInitializePersistsAcrossRuns(t *testing.T) {
	resetGlobal(t)
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, Initialize(path))
	require.True(t, IsInitialized())
	require.Len(t, Global().GetSections(), 3)

	require.NoError(t, GetBrowser().SetData(map[string]interface{}{"channel": "chrome", "slow_mo": 25}))
	require.NoError(t, GetHardening().SetData(map[string]interface{}{"locale": "de-DE"}))
	require.NoError(t, Global().SaveAll())

	resetGlobal(t)
	require.NoError(t, Initialize(path))

	assert.Equal(t, "chrome", GetBrowser().Channel)
	assert.Equal(t, 25, GetBrowser().SlowMo)
	_, _, locale := GetHardening().Values()
	assert.Equal(t, "de-DE", locale)
}

func TestSectionValidation(t *testing.T) {
	t.Run("browser", func(t *testing.T) {
		s := NewBrowserSection()
		require.NoError(t, s.Validate())
		require.NoError(t, s.SetData(map[string]interface{}{"window_width": float64(0)}))
		assert.Error(t, s.Validate())
		assert.Error(t, s.SetData(map[string]interface{}{"slow_mo": "fast"}))
	})

	t.Run("identity", func(t *testing.T) {
		s := NewIdentitySection()
		require.NoError(t, s.Validate())
		require.NoError(t, s.SetData(map[string]interface{}{"patterns": []interface{}{"login.example.com", "[bad"}}))
		assert.ErrorContains(t, s.Validate(), "[bad")
		assert.Error(t, s.SetData(map[string]interface{}{"patterns": []interface{}{1}}))

		s.Reset()
		cw, ch := s.CompanionSize()
		assert.Equal(t, 900, cw)
		assert.Equal(t, 680, ch)
	})

	t.Run("hardening", func(t *testing.T) {
		s := NewHardeningSection()
		require.NoError(t, s.Validate())
		require.NoError(t, s.SetData(map[string]interface{}{"locale": "not a locale!"}))
		assert.Error(t, s.Validate())
		require.NoError(t, s.SetData(map[string]interface{}{"locale": "fr", "user_agent": ""}))
		assert.Error(t, s.Validate())
	})
}

func TestSystemLocale(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		locale string
	}{
		{name: "unset", locale: DefaultLocale},
		{name: "lang with encoding", env: map[string]string{"LANG": "de_DE.UTF-8"}, locale: "de-DE"},
		{name: "modifier", env: map[string]string{"LANG": "fr_FR.UTF-8@euro"}, locale: "fr-FR"},
		{name: "language only", env: map[string]string{"LANG": "ja"}, locale: "ja"},
		{name: "lc_all wins", env: map[string]string{"LC_ALL": "pt_BR.UTF-8", "LC_MESSAGES": "es_ES", "LANG": "de_DE"}, locale: "pt-BR"},
		{name: "lc_messages before lang", env: map[string]string{"LC_MESSAGES": "es_ES", "LANG": "de_DE"}, locale: "es-ES"},
		{name: "c locale", env: map[string]string{"LANG": "C.UTF-8"}, locale: DefaultLocale},
		{name: "posix", env: map[string]string{"LC_ALL": "POSIX", "LANG": "de_DE"}, locale: DefaultLocale},
		{name: "garbage", env: map[string]string{"LANG": "not a locale!"}, locale: DefaultLocale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLocaleEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.locale, SystemLocale())

			_, _, locale := NewHardeningSection().Values()
			assert.Equal(t, tt.locale, locale, "unset section takes the environment locale")
		})
	}
}

func TestConfiguredLocaleOverridesEnvironment(t *testing.T) {
	clearLocaleEnv(t)
	t.Setenv("LANG", "de_DE.UTF-8")

	s := NewHardeningSection()
	require.NoError(t, s.SetData(map[string]interface{}{"locale": "it-IT"}))
	_, _, locale := s.Values()
	assert.Equal(t, "it-IT", locale)
}
