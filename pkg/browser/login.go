package browser

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgbrowser "github.com/pkg/browser"

	"github.com/entrhq/pageflow/pkg/config"
	"github.com/entrhq/pageflow/pkg/logging"
)

// LoginState is the federated-login state of one session view.
type LoginState int

const (
	LoginIdle LoginState = iota
	LoginPending
	LoginResolved
)

func (s LoginState) String() string {
	switch s {
	case LoginPending:
		return "pending"
	case LoginResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// ExternalOpener opens a URL outside the session browser.
type ExternalOpener interface {
	OpenURL(url string) error
}

// ExternalOpenerFunc adapts a function to ExternalOpener.
type ExternalOpenerFunc func(url string) error

func (f ExternalOpenerFunc) OpenURL(url string) error { return f(url) }

// SystemOpener opens URLs with the operating system's default handler.
func SystemOpener() ExternalOpener {
	return ExternalOpenerFunc(pkgbrowser.OpenURL)
}

// LoginOptions configures the redirector.
type LoginOptions struct {
	Identity        *IdentityMatcher
	CompanionWidth  int
	CompanionHeight int
	Opener          ExternalOpener
	// Timeout bounds opening and loading the companion window.
	Timeout time.Duration
	Logger  logging.Sink
}

type loginFlow struct {
	view       View
	partition  Partition
	sessionURL string
	targetHost string

	state     LoginState
	companion Window
	subs      subscriptions
}

// LoginRedirector sends identity-provider popups through a companion window in
// the session's own partition, and everything else to the system browser.
type LoginRedirector struct {
	host     Host
	injector *Injector
	opts     LoginOptions

	mu    sync.Mutex
	flows map[View]*loginFlow
}

// NewLoginRedirector creates a redirector. Zero option fields take defaults.
func NewLoginRedirector(host Host, injector *Injector, opts LoginOptions) *LoginRedirector {
	if opts.Identity == nil {
		opts.Identity, _ = NewIdentityMatcher(config.DefaultIdentityPatterns)
	}
	if opts.CompanionWidth <= 0 || opts.CompanionHeight <= 0 {
		opts.CompanionWidth, opts.CompanionHeight = config.NewIdentitySection().CompanionSize()
	}
	if opts.Opener == nil {
		opts.Opener = SystemOpener()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &LoginRedirector{
		host:     host,
		injector: injector,
		opts:     opts,
		flows:    make(map[View]*loginFlow),
	}
}

// Install starts intercepting window-open requests of view. The returned
// subscription stops interception and closes any open companion.
func (r *LoginRedirector) Install(view View, partition Partition, sessionURL string) Subscription {
	flow := &loginFlow{
		view:       view,
		partition:  partition,
		sessionURL: sessionURL,
		targetHost: hostOf(sessionURL),
	}

	r.mu.Lock()
	r.flows[view] = flow
	r.mu.Unlock()

	sub := view.OnWindowOpen(func(u string) WindowOpenDecision {
		return r.handleWindowOpen(flow, u)
	})
	return SubscriptionFunc(func() {
		sub.Unsubscribe()
		r.teardown(flow)
	})
}

// State reports the login state of view.
func (r *LoginRedirector) State(view View) LoginState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if flow, ok := r.flows[view]; ok {
		return flow.state
	}
	return LoginIdle
}

func (r *LoginRedirector) handleWindowOpen(flow *loginFlow, target string) WindowOpenDecision {
	if !r.opts.Identity.MatchURL(target) {
		if err := r.opts.Opener.OpenURL(target); err != nil {
			r.opts.Logger.Warnf("opening %s externally failed: %v", target, err)
		}
		return DenyWindowOpen
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	r.mu.Lock()
	if flow.state == LoginPending && flow.companion == nil {
		// another request is still opening the companion
		r.mu.Unlock()
		return DenyWindowOpen
	}
	if flow.state == LoginPending {
		companion := flow.companion
		r.mu.Unlock()
		r.opts.Logger.Debugf("login already pending, reusing companion for %s", target)
		if err := companion.View().Load(ctx, target); err != nil {
			r.opts.Logger.Warnf("companion load failed: %v", err)
		}
		_ = companion.Focus()
		return DenyWindowOpen
	}
	flow.state = LoginPending
	r.mu.Unlock()

	companion, err := r.host.OpenWindow(ctx, flow.partition, WindowOptions{
		Width:  r.opts.CompanionWidth,
		Height: r.opts.CompanionHeight,
		Title:  "Sign in",
	})
	if err != nil {
		r.opts.Logger.Warnf("opening login companion failed: %v", err)
		r.mu.Lock()
		flow.state = LoginIdle
		r.mu.Unlock()
		return DenyWindowOpen
	}

	if r.injector != nil {
		if err := r.injector.Inject(ctx, companion.View()); err != nil {
			r.opts.Logger.Debugf("companion hardening: %v", err)
		}
	}

	check := func(u string) { r.maybeResolve(flow, companion, u) }
	r.mu.Lock()
	flow.companion = companion
	flow.subs = subscriptions{
		companion.View().OnRedirect(check),
		companion.View().OnNavigate(check),
		companion.OnClosed(func() { r.companionClosed(flow, companion) }),
	}
	r.mu.Unlock()

	r.opts.Logger.Infof("login companion opened for %s", hostOf(target))
	if err := companion.View().Load(ctx, target); err != nil {
		r.opts.Logger.Warnf("companion load failed: %v", err)
	}
	return DenyWindowOpen
}

func (r *LoginRedirector) maybeResolve(flow *loginFlow, companion Window, u string) {
	if r.opts.Identity.MatchURL(u) || !sameSite(hostOf(u), flow.targetHost) {
		return
	}

	r.mu.Lock()
	if flow.state != LoginPending || flow.companion != companion {
		r.mu.Unlock()
		return
	}
	flow.state = LoginResolved
	subs := flow.subs
	flow.subs = nil
	flow.companion = nil
	r.mu.Unlock()

	subs.unsubscribeAll()
	r.opts.Logger.Infof("login resolved at %s, reloading session", hostOf(u))

	if err := companion.Close(); err != nil {
		r.opts.Logger.Debugf("closing login companion: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()
	if err := flow.view.Load(ctx, flow.sessionURL); err != nil {
		r.opts.Logger.Debugf("reloading session after login: %v", err)
	}
}

// companionClosed handles the user closing the companion before login finished.
func (r *LoginRedirector) companionClosed(flow *loginFlow, companion Window) {
	r.mu.Lock()
	if flow.companion != companion {
		r.mu.Unlock()
		return
	}
	subs := flow.subs
	flow.subs = nil
	flow.companion = nil
	flow.state = LoginIdle
	r.mu.Unlock()

	subs.unsubscribeAll()
	r.opts.Logger.Debugf("login companion closed before resolving")
}

func (r *LoginRedirector) teardown(flow *loginFlow) {
	r.mu.Lock()
	companion := flow.companion
	subs := flow.subs
	flow.subs = nil
	flow.companion = nil
	if r.flows[flow.view] == flow {
		delete(r.flows, flow.view)
	}
	r.mu.Unlock()

	subs.unsubscribeAll()
	if companion != nil {
		if err := companion.Close(); err != nil {
			r.opts.Logger.Debugf("closing login companion: %v", err)
		}
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// sameSite reports whether host is target or a subdomain of it.
func sameSite(host, target string) bool {
	if host == "" || target == "" {
		return false
	}
	return host == target || strings.HasSuffix(host, "."+target)
}
