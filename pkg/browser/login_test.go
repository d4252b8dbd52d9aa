package browser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openerRecorder struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *openerRecorder) OpenURL(u string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, u)
	return o.err
}

const (
	sessionURL  = "https://app.example.com/home"
	identityURL = "https://accounts.google.com/o/oauth2/auth?client_id=1"
)

type loginFixture struct {
	host    *fakeHost
	reg     *Registry
	login   *LoginRedirector
	opener  *openerRecorder
	id      string
	session *fakeWindow
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	host := newFakeHost()
	inj := NewInjector(nil)
	opener := &openerRecorder{}
	login := NewLoginRedirector(host, inj, LoginOptions{Opener: opener})
	reg := NewRegistry(host, RegistryOptions{Injector: inj, Login: login})

	id, err := reg.Create(context.Background(), sessionURL)
	require.NoError(t, err)
	s, _ := reg.Get(id)
	return &loginFixture{host: host, reg: reg, login: login, opener: opener, id: id, session: s.Window.(*fakeWindow)}
}

func (f *loginFixture) companion(t *testing.T) *fakeWindow {
	t.Helper()
	windows := f.host.windowList()
	require.Len(t, windows, 2, "expected the session window and one companion")
	return windows[1]
}

func TestLoginNonIdentityPopupOpensExternally(t *testing.T) {
	f := newLoginFixture(t)

	decision := f.session.view.requestWindow("https://docs.example.org/help")

	assert.Equal(t, DenyWindowOpen, decision)
	assert.Equal(t, []string{"https://docs.example.org/help"}, f.opener.urls)
	assert.Len(t, f.host.windowList(), 1)
	assert.Equal(t, LoginIdle, f.login.State(f.session.view))
}

func TestLoginExternalOpenFailureIsSwallowed(t *testing.T) {
	f := newLoginFixture(t)
	f.opener.err = errors.New("no handler")
	assert.Equal(t, DenyWindowOpen, f.session.view.requestWindow("https://docs.example.org"))
}

func TestLoginCompanionFlow(t *testing.T) {
	f := newLoginFixture(t)
	view := f.session.view

	decision := view.requestWindow(identityURL)
	assert.Equal(t, DenyWindowOpen, decision)
	assert.Empty(t, f.opener.urls)
	assert.Equal(t, LoginPending, f.login.State(view))

	companion := f.companion(t)
	assert.Same(t, f.session.partition, companion.partition, "companion shares the session partition")
	assert.Equal(t, 900, companion.opts.Width)
	assert.Equal(t, 680, companion.opts.Height)
	_, _, scripts := companion.view.debugger.counts()
	assert.Equal(t, 1, scripts, "companion is hardened")
	assert.Equal(t, []string{identityURL}, companion.view.loadList())

	// still on the identity provider, or somewhere unrelated
	companion.view.navigateTo("https://accounts.google.com/signin/challenge")
	companion.view.redirectTo("https://notexample.com/app.example.com")
	assert.Equal(t, LoginPending, f.login.State(view))
	assert.False(t, companion.IsClosed())

	companion.view.redirectTo("https://app.example.com/auth/callback?code=abc")

	assert.Equal(t, LoginResolved, f.login.State(view))
	assert.True(t, companion.IsClosed())
	assert.Equal(t, []string{sessionURL, sessionURL}, view.loadList(), "session reloads its bound url")

	// later companion events are ignored
	companion.view.navigateTo("https://app.example.com/again")
	assert.Len(t, view.loadList(), 2)
}

func TestLoginResolvesOnSubdomainNavigation(t *testing.T) {
	f := newLoginFixture(t)
	f.session.view.requestWindow(identityURL)
	companion := f.companion(t)

	companion.view.navigateTo("https://auth.app.example.com/done")
	assert.Equal(t, LoginResolved, f.login.State(f.session.view))
	assert.True(t, companion.IsClosed())
}

func TestLoginErrorsAreSwallowed(t *testing.T) {
	f := newLoginFixture(t)
	f.session.view.requestWindow(identityURL)
	companion := f.companion(t)

	companion.closeErr = errors.New("already destroyed")
	f.session.view.loadErr = errors.New("net::ERR_ABORTED")

	assert.NotPanics(t, func() { companion.view.redirectTo("https://app.example.com/") })
	assert.Equal(t, LoginResolved, f.login.State(f.session.view))
	_, ok := f.reg.Get(f.id)
	assert.True(t, ok, "session survives a failed reload")
}

func TestLoginCompanionClosedByUser(t *testing.T) {
	f := newLoginFixture(t)
	f.session.view.requestWindow(identityURL)
	companion := f.companion(t)

	require.NoError(t, companion.Close())
	assert.Equal(t, LoginIdle, f.login.State(f.session.view))

	// a new attempt opens a fresh companion
	f.session.view.requestWindow(identityURL)
	assert.Len(t, f.host.windowList(), 3)
	assert.Equal(t, LoginPending, f.login.State(f.session.view))
}

func TestLoginSecondRequestReusesCompanion(t *testing.T) {
	f := newLoginFixture(t)
	f.session.view.requestWindow(identityURL)
	f.session.view.requestWindow("https://accounts.google.com/AccountChooser")

	companion := f.companion(t)
	assert.Equal(t, []string{identityURL, "https://accounts.google.com/AccountChooser"}, companion.view.loadList())
	assert.Equal(t, 1, companion.focused)
}

func TestLoginCompanionOpenFailure(t *testing.T) {
	f := newLoginFixture(t)
	f.host.mu.Lock()
	f.host.openErr = errors.New("too many windows")
	f.host.mu.Unlock()

	assert.Equal(t, DenyWindowOpen, f.session.view.requestWindow(identityURL))
	assert.Equal(t, LoginIdle, f.login.State(f.session.view))
}

func TestLoginCompanionClosedWithSession(t *testing.T) {
	f := newLoginFixture(t)
	f.session.view.requestWindow(identityURL)
	companion := f.companion(t)

	require.NoError(t, f.reg.Remove(f.id))
	assert.True(t, companion.IsClosed())
	assert.Equal(t, LoginIdle, f.login.State(f.session.view))
}

func TestSameSite(t *testing.T) {
	assert.True(t, sameSite("example.com", "example.com"))
	assert.True(t, sameSite("www.example.com", "example.com"))
	assert.False(t, sameSite("badexample.com", "example.com"))
	assert.False(t, sameSite("", "example.com"))
	assert.False(t, sameSite("example.com", ""))
}
