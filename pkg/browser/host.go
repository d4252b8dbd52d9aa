package browser

import (
	"context"
	"sync"
)

// Host is the browser the registry drives.
type Host interface {
	// Partition returns the named storage partition, creating it on first use.
	// The same name always yields the same partition.
	Partition(name string) (Partition, error)

	// OpenWindow opens a visible window whose view is scoped to partition.
	OpenWindow(ctx context.Context, partition Partition, opts WindowOptions) (Window, error)

	// ReleasePartition frees a partition once no session refers to it.
	ReleasePartition(name string) error

	Close() error
}

// RequestHeaders rewrites the headers of one outgoing request.
type RequestHeaders func(requestURL string, headers map[string]string) map[string]string

// Partition is an isolated cookie and storage scope.
type Partition interface {
	Name() string

	// OnBeforeSendHeaders installs a header rewrite for every request in the partition.
	OnBeforeSendHeaders(rewrite RequestHeaders) error
}

// WindowOptions sizes a new window.
type WindowOptions struct {
	Width  int
	Height int
	Title  string
}

// Window is a shell window hosting one content view.
type Window interface {
	View() View
	ContentSize() (width, height int)
	Focus() error
	Close() error
	IsClosed() bool

	OnResize(fn func(width, height int)) Subscription
	OnClosed(fn func()) Subscription
}

// WindowOpenDecision is the answer to a window-open request from page content.
type WindowOpenDecision int

const (
	AllowWindowOpen WindowOpenDecision = iota
	DenyWindowOpen
)

// View is the web content inside a window.
type View interface {
	Load(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL() string
	SetBounds(width, height int) error

	// Evaluate calls the JavaScript function source fn with arg as its single
	// argument and returns the JSON-decoded result.
	Evaluate(ctx context.Context, fn string, arg interface{}) (interface{}, error)

	// Content returns the serialized DOM of the main frame.
	Content(ctx context.Context) (string, error)

	Debugger() Debugger

	OnWindowOpen(fn func(url string) WindowOpenDecision) Subscription
	OnRedirect(fn func(url string)) Subscription
	OnNavigate(fn func(url string)) Subscription
}

// Debugger is the remote debugging interface of a view.
type Debugger interface {
	IsAttached() bool
	Attach() error
	Detach() error
	Send(method string, params map[string]interface{}) (interface{}, error)
}

// Subscription is the handle of one registered listener. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription. The function runs at most once.
func SubscriptionFunc(fn func()) Subscription {
	return &funcSubscription{fn: fn}
}

type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.fn != nil {
			s.fn()
		}
	})
}

// subscriptions collects handles so they can be torn down together.
type subscriptions []Subscription

func (s subscriptions) unsubscribeAll() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}
