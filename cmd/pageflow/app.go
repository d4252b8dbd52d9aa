package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/config"
	"github.com/entrhq/pageflow/pkg/logging"
	"github.com/entrhq/pageflow/pkg/store"
)

// globalFlags are accepted before the command name.
type globalFlags struct {
	configPath string
	dataDir    string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "Path to the configuration file (default: ~/.pageflow/config.json)")
	fs.StringVar(&g.dataDir, "data", "", "Directory holding workflows and page workflows (default: ~/.pageflow/data)")
}

// app holds what every command needs: configuration, a run logger and the record store.
type app struct {
	log   *logging.Logger
	store *store.Store
}

func newApp(g *globalFlags, component string) (*app, error) {
	if err := config.Initialize(g.configPath); err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	for _, section := range config.Global().GetSections() {
		if err := section.Validate(); err != nil {
			return nil, fmt.Errorf("config section %s: %w", section.ID(), err)
		}
	}

	dir := g.dataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".pageflow", "data")
	}

	log := logging.MustLogger(component)
	log.Infof("pageflow v%s %s (data=%s)", version, component, dir)
	return &app{log: log, store: store.New(dir)}, nil
}

func (a *app) close() {
	_ = a.log.Close()
}

// browserFlags override the browser config section for one invocation.
// Zero values defer to the configuration file.
type browserFlags struct {
	channel string
	slowMo  int
	width   int
	height  int
	install bool
}

func (b *browserFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&b.channel, "channel", "", "Installed browser channel, e.g. chrome or msedge (default: config, then bundled Chromium)")
	fs.IntVar(&b.slowMo, "slow-mo", 0, "Milliseconds between driver operations (default: config)")
	fs.IntVar(&b.width, "width", 0, "Session window width (default: config)")
	fs.IntVar(&b.height, "height", 0, "Session window height (default: config)")
	fs.BoolVar(&b.install, "install", false, "Download the playwright driver and browsers before starting")
}

// browserSettings are the launch values after flags are applied over config.
type browserSettings struct {
	Channel string
	SlowMo  int
	Width   int
	Height  int
}

func resolveBrowser(section *config.BrowserSection, f browserFlags) browserSettings {
	var s browserSettings
	s.Channel, s.SlowMo = section.Launch()
	s.Width, s.Height = section.WindowSize()

	if f.channel != "" {
		s.Channel = f.channel
	}
	if f.slowMo > 0 {
		s.SlowMo = f.slowMo
	}
	if f.width > 0 && f.height > 0 {
		s.Width, s.Height = f.width, f.height
	}
	return s
}

// sessionStack is a running browser with the registry that owns its sessions.
type sessionStack struct {
	host     *browser.PlaywrightHost
	registry *browser.Registry
}

// openBrowser launches the browser and builds the session registry with the
// hardening, identity and login collaborators taken from configuration.
func (a *app) openBrowser(f browserFlags) (*sessionStack, error) {
	settings := resolveBrowser(config.GetBrowser(), f)
	userAgent, identityUserAgent, locale := config.GetHardening().Values()
	identity := config.GetIdentity()

	matcher, err := browser.NewIdentityMatcher(identity.GetPatterns())
	if err != nil {
		return nil, err
	}

	host, err := browser.NewPlaywrightHost(browser.PlaywrightOptions{
		Channel:      settings.Channel,
		SlowMo:       settings.SlowMo,
		UserAgent:    userAgent,
		Locale:       locale,
		Install:      f.install,
		DriverOutput: a.log.Writer(),
		Logger:       a.log.Component("playwright"),
	})
	if err != nil {
		return nil, err
	}

	injector := browser.NewInjector(a.log.Component("stealth"))
	companionWidth, companionHeight := identity.CompanionSize()
	registry := browser.NewRegistry(host, browser.RegistryOptions{
		Hardener: browser.NewPartitionHardener(host, browser.HardeningOptions{
			UserAgent:         userAgent,
			IdentityUserAgent: identityUserAgent,
			Locale:            locale,
			Identity:          matcher,
			Logger:            a.log.Component("hardening"),
		}),
		Injector: injector,
		Login: browser.NewLoginRedirector(host, injector, browser.LoginOptions{
			Identity:        matcher,
			CompanionWidth:  companionWidth,
			CompanionHeight: companionHeight,
			Logger:          a.log.Component("login"),
		}),
		WindowWidth:  settings.Width,
		WindowHeight: settings.Height,
		Logger:       a.log.Component("sessions"),
	})

	return &sessionStack{host: host, registry: registry}, nil
}

// close removes every remaining session and stops the browser.
func (s *sessionStack) close() error {
	return errors.Join(s.registry.CloseAll(), s.host.Close())
}
