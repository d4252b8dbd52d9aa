package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pageflow/pkg/config"
	"github.com/entrhq/pageflow/pkg/logging"
)

// Session is one open browser window bound to a target URL.
type Session struct {
	ID        string
	Window    Window
	View      View
	Partition string
	URL       string
	CreatedAt time.Time

	subs subscriptions
}

// PartitionName derives the storage partition of a session.
func PartitionName(sessionID string) string {
	return "persist:" + sessionID
}

// Notifier receives session closures. Implementations must not block;
// a notification nobody is listening for is dropped.
type Notifier interface {
	SessionClosed(id string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(id string)

func (f NotifierFunc) SessionClosed(id string) { f(id) }

// RegistryOptions wires the registry's collaborators. Nil fields get defaults
// built from the config package defaults.
type RegistryOptions struct {
	Hardener     *PartitionHardener
	Injector     *Injector
	Login        *LoginRedirector
	Notifier     Notifier
	WindowWidth  int
	WindowHeight int
	Logger       logging.Sink
	NewID        func() string
}

// Registry is the single owner of session lifecycle.
type Registry struct {
	host     Host
	hardener *PartitionHardener
	injector *Injector
	login    *LoginRedirector
	log      logging.Sink
	newID    func() string
	width    int
	height   int

	mu       sync.RWMutex
	sessions map[string]*Session
	notifier Notifier
}

// NewRegistry creates an empty registry over host.
func NewRegistry(host Host, opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Injector == nil {
		opts.Injector = NewInjector(opts.Logger)
	}
	if opts.Hardener == nil {
		opts.Hardener = NewPartitionHardener(host, HardeningOptions{Logger: opts.Logger})
	}
	if opts.Login == nil {
		opts.Login = NewLoginRedirector(host, opts.Injector, LoginOptions{Logger: opts.Logger})
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = config.NewBrowserSection().WindowSize()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		host:     host,
		hardener: opts.Hardener,
		injector: opts.Injector,
		login:    opts.Login,
		log:      opts.Logger,
		newID:    opts.NewID,
		width:    opts.WindowWidth,
		height:   opts.WindowHeight,
		sessions: make(map[string]*Session),
		notifier: opts.Notifier,
	}
}

// SetNotifier replaces the closure notifier. nil disables notifications.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// Create opens a new session for target and returns its id.
//
// The stealth script is registered before the first navigation. A failure to
// register it is logged and the session opens unhardened. A failed page load
// is logged too; the window stays open so the user can retry. A window that
// is already gone by the time it is registered is released at once.
func (r *Registry) Create(ctx context.Context, target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("invalid session url %q", target)
	}

	id := r.newID()
	partitionName := PartitionName(id)

	if err := r.hardener.Ensure(partitionName); err != nil {
		return "", fmt.Errorf("hardening partition: %w", err)
	}
	partition, err := r.host.Partition(partitionName)
	if err != nil {
		return "", fmt.Errorf("opening partition: %w", err)
	}

	win, err := r.host.OpenWindow(ctx, partition, WindowOptions{
		Width:  r.width,
		Height: r.height,
		Title:  target,
	})
	if err != nil {
		_ = r.host.ReleasePartition(partitionName)
		return "", fmt.Errorf("opening window: %w", err)
	}
	view := win.View()

	if err := r.injector.Inject(ctx, view); err != nil {
		if !errors.Is(err, ErrHardeningSkipped) {
			_ = win.Close()
			_ = r.host.ReleasePartition(partitionName)
			return "", err
		}
		r.log.Warnf("session %s: %v", id, err)
	}

	layout := func(w, h int) {
		if err := view.SetBounds(w, h); err != nil {
			r.log.Debugf("session %s: layout failed: %v", id, err)
		}
	}
	layout(win.ContentSize())

	s := &Session{
		ID:        id,
		Window:    win,
		View:      view,
		Partition: partitionName,
		URL:       target,
		CreatedAt: time.Now(),
	}
	s.subs = subscriptions{
		win.OnResize(layout),
		r.login.Install(view, partition, target),
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	// registered only once the session is findable, so a close that fires
	// from here on always reaches windowClosed
	closedSub := win.OnClosed(func() { r.windowClosed(id) })
	r.mu.Lock()
	_, live := r.sessions[id]
	if live {
		s.subs = append(s.subs, closedSub)
	}
	r.mu.Unlock()
	if !live {
		closedSub.Unsubscribe()
	}
	if win.IsClosed() {
		r.windowClosed(id)
		return "", fmt.Errorf("session %s: window closed while opening: %w", id, ErrClosed)
	}

	r.log.Infof("session %s created for %s", id, target)
	if err := view.Load(ctx, target); err != nil {
		r.log.Warnf("session %s: loading %s failed: %v", id, target, err)
	}
	return id, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all open sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Focus brings the session's window to the front.
func (r *Registry) Focus(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := s.Window.Focus(); err != nil {
		return fmt.Errorf("focusing session %s: %w", id, err)
	}
	return nil
}

// Remove closes the session's window and forgets the session.
func (r *Registry) Remove(id string) error {
	s, ok := r.take(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	// listeners first so the window's own closed event is not seen twice
	s.subs.unsubscribeAll()
	if err := s.Window.Close(); err != nil {
		r.log.Debugf("session %s: closing window: %v", id, err)
	}
	r.finish(s)
	return nil
}

// CloseAll removes every session.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, s := range r.List() {
		if err := r.Remove(s.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) windowClosed(id string) {
	s, ok := r.take(id)
	if !ok {
		return
	}
	r.finish(s)
}

func (r *Registry) take(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *Registry) finish(s *Session) {
	s.subs.unsubscribeAll()
	r.injector.Forget(s.View)
	if err := r.host.ReleasePartition(s.Partition); err != nil {
		r.log.Debugf("session %s: releasing partition: %v", s.ID, err)
	}
	r.log.Infof("session %s closed", s.ID)

	r.mu.RLock()
	n := r.notifier
	r.mu.RUnlock()
	if n != nil {
		n.SessionClosed(s.ID)
	}
}
