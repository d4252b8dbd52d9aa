package browser

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/entrhq/pageflow/pkg/logging"
)

//go:embed stealth.js
var stealthScript string

// StealthScript returns the anti-fingerprint patch registered on every view.
func StealthScript() string {
	return stealthScript
}

type injectState int

const (
	stateDetached injectState = iota
	stateAttaching
	stateRegistered
)

func (s injectState) String() string {
	switch s {
	case stateAttaching:
		return "attaching"
	case stateRegistered:
		return "registered"
	default:
		return "detached"
	}
}

type injection struct {
	state injectState
	done  chan struct{}
	err   error
}

// Injector registers the stealth script on views through their debugger.
//
// Each view moves detached -> attaching -> registered. A view that reached
// registered is never touched again; concurrent callers for a view that is
// attaching wait for the first caller's result. A failed attempt returns the
// view to detached so a later call may retry.
type Injector struct {
	log logging.Sink

	mu    sync.Mutex
	views map[View]*injection
}

// NewInjector creates an injector with an empty state table.
func NewInjector(log logging.Sink) *Injector {
	if log == nil {
		log = logging.Nop()
	}
	return &Injector{log: log, views: make(map[View]*injection)}
}

// Inject registers the stealth script on view so it runs before any page
// script of every later document. Failures wrap ErrHardeningSkipped.
func (i *Injector) Inject(ctx context.Context, view View) error {
	i.mu.Lock()
	entry := i.views[view]
	if entry != nil {
		switch entry.state {
		case stateRegistered:
			i.mu.Unlock()
			return nil
		case stateAttaching:
			done := entry.done
			i.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			i.mu.Lock()
			err := entry.err
			i.mu.Unlock()
			return err
		}
	}
	entry = &injection{state: stateAttaching, done: make(chan struct{})}
	i.views[view] = entry
	i.mu.Unlock()

	err := i.register(view)

	i.mu.Lock()
	if err != nil {
		entry.state = stateDetached
		entry.err = err
	} else {
		entry.state = stateRegistered
	}
	close(entry.done)
	i.mu.Unlock()
	return err
}

func (i *Injector) register(view View) error {
	dbg := view.Debugger()

	took := false
	if !dbg.IsAttached() {
		if err := dbg.Attach(); err != nil {
			i.log.Warnf("debugger attach failed, continuing unhardened: %v", err)
			return fmt.Errorf("%w: attach: %w", ErrHardeningSkipped, err)
		}
		took = true
	}
	defer func() {
		if took && dbg.IsAttached() {
			if err := dbg.Detach(); err != nil {
				i.log.Debugf("debugger detach failed: %v", err)
			}
		}
	}()

	if _, err := dbg.Send("Page.enable", nil); err != nil {
		i.log.Warnf("Page.enable failed, continuing unhardened: %v", err)
		return fmt.Errorf("%w: Page.enable: %w", ErrHardeningSkipped, err)
	}
	if _, err := dbg.Send("Page.addScriptToEvaluateOnNewDocument", map[string]interface{}{
		"source": stealthScript,
	}); err != nil {
		i.log.Warnf("stealth script registration failed, continuing unhardened: %v", err)
		return fmt.Errorf("%w: addScriptToEvaluateOnNewDocument: %w", ErrHardeningSkipped, err)
	}

	i.log.Infof("stealth script registered")
	return nil
}

// State reports the injection state of view, for diagnostics.
func (i *Injector) State(view View) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if e, ok := i.views[view]; ok {
		return e.state.String()
	}
	return stateDetached.String()
}

// Forget drops the state of a view that has been destroyed.
func (i *Injector) Forget(view View) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.views, view)
}
