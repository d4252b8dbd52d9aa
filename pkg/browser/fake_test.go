package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// listenerSet is a minimal event source that hands out real subscriptions.
type listenerSet[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]T
}

func (l *listenerSet[T]) add(fn T) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]T)
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return SubscriptionFunc(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	})
}

func (l *listenerSet[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, len(l.fns))
	for i := 0; i < l.next; i++ {
		if fn, ok := l.fns[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (l *listenerSet[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

type fakeHost struct {
	mu         sync.Mutex
	partitions map[string]*fakePartition
	windows    []*fakeWindow
	released   []string
	events     []string
	openErr    error
	attachErr  error

	// closeOnOpen closes each window before OpenWindow returns it.
	closeOnOpen bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{partitions: make(map[string]*fakePartition)}
}

func (h *fakeHost) record(format string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
}

func (h *fakeHost) eventLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *fakeHost) Partition(name string) (Partition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.partitions[name]; ok {
		return p, nil
	}
	p := &fakePartition{name: name}
	h.partitions[name] = p
	return p, nil
}

func (h *fakeHost) partition(name string) *fakePartition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.partitions[name]
}

func (h *fakeHost) OpenWindow(ctx context.Context, partition Partition, opts WindowOptions) (Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	w := &fakeWindow{
		host:      h,
		partition: partition.(*fakePartition),
		opts:      opts,
		width:     opts.Width,
		height:    opts.Height,
	}
	w.view = &fakeView{host: h, window: w, debugger: &fakeDebugger{host: h, attachErr: h.attachErr}}
	h.windows = append(h.windows, w)
	if h.closeOnOpen {
		w.closed = true
	}
	return w, nil
}

func (h *fakeHost) ReleasePartition(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = append(h.released, name)
	delete(h.partitions, name)
	return nil
}

func (h *fakeHost) Close() error { return nil }

func (h *fakeHost) windowList() []*fakeWindow {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeWindow(nil), h.windows...)
}

func (h *fakeHost) releasedList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.released...)
}

type fakePartition struct {
	name       string
	mu         sync.Mutex
	rewrites   []RequestHeaders
	installErr error
}

func (p *fakePartition) Name() string { return p.name }

func (p *fakePartition) OnBeforeSendHeaders(rewrite RequestHeaders) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installErr != nil {
		return p.installErr
	}
	p.rewrites = append(p.rewrites, rewrite)
	return nil
}

func (p *fakePartition) rewriteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rewrites)
}

// send runs a request through every installed rewrite.
func (p *fakePartition) send(url string, headers map[string]string) map[string]string {
	p.mu.Lock()
	rewrites := append([]RequestHeaders(nil), p.rewrites...)
	p.mu.Unlock()
	for _, rw := range rewrites {
		headers = rw(url, headers)
	}
	return headers
}

type fakeWindow struct {
	host      *fakeHost
	partition *fakePartition
	view      *fakeView
	opts      WindowOptions

	mu       sync.Mutex
	width    int
	height   int
	closed   bool
	focused  int
	closeErr error

	resize   listenerSet[func(int, int)]
	onClosed listenerSet[func()]
}

func (w *fakeWindow) View() View { return w.view }

func (w *fakeWindow) ContentSize() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

func (w *fakeWindow) Focus() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.focused++
	return nil
}

// Close behaves like a user closing the window: closed listeners fire synchronously.
func (w *fakeWindow) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.closeErr
	w.mu.Unlock()

	w.host.record("close:%s", w.opts.Title)
	for _, fn := range w.onClosed.snapshot() {
		fn()
	}
	return err
}

func (w *fakeWindow) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeWindow) resizeTo(width, height int) {
	w.mu.Lock()
	w.width, w.height = width, height
	w.mu.Unlock()
	for _, fn := range w.resize.snapshot() {
		fn(width, height)
	}
}

func (w *fakeWindow) OnResize(fn func(int, int)) Subscription { return w.resize.add(fn) }
func (w *fakeWindow) OnClosed(fn func()) Subscription         { return w.onClosed.add(fn) }

type fakeView struct {
	host     *fakeHost
	window   *fakeWindow
	debugger *fakeDebugger

	mu      sync.Mutex
	loads   []string
	loadErr error
	bounds  [2]int
	content string
	evalFn  func(fn string, arg interface{}) (interface{}, error)

	windowOpen listenerSet[func(string) WindowOpenDecision]
	redirect   listenerSet[func(string)]
	navigate   listenerSet[func(string)]
}

func (v *fakeView) Load(ctx context.Context, url string) error {
	v.host.record("load:%s", url)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loads = append(v.loads, url)
	return v.loadErr
}

func (v *fakeView) Reload(ctx context.Context) error {
	v.mu.Lock()
	last := ""
	if len(v.loads) > 0 {
		last = v.loads[len(v.loads)-1]
	}
	v.mu.Unlock()
	return v.Load(ctx, last)
}

func (v *fakeView) URL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.loads) == 0 {
		return "about:blank"
	}
	return v.loads[len(v.loads)-1]
}

func (v *fakeView) loadList() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.loads...)
}

func (v *fakeView) SetBounds(width, height int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bounds = [2]int{width, height}
	return nil
}

func (v *fakeView) currentBounds() [2]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bounds
}

func (v *fakeView) Evaluate(ctx context.Context, fn string, arg interface{}) (interface{}, error) {
	v.mu.Lock()
	eval := v.evalFn
	v.mu.Unlock()
	if eval == nil {
		return nil, fmt.Errorf("evaluate not scripted")
	}
	return eval(fn, arg)
}

func (v *fakeView) Content(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.content, nil
}

func (v *fakeView) Debugger() Debugger { return v.debugger }

func (v *fakeView) OnWindowOpen(fn func(string) WindowOpenDecision) Subscription {
	return v.windowOpen.add(fn)
}
func (v *fakeView) OnRedirect(fn func(string)) Subscription { return v.redirect.add(fn) }
func (v *fakeView) OnNavigate(fn func(string)) Subscription { return v.navigate.add(fn) }

// requestWindow simulates page script calling window.open(url).
func (v *fakeView) requestWindow(url string) WindowOpenDecision {
	decision := AllowWindowOpen
	for _, fn := range v.windowOpen.snapshot() {
		decision = fn(url)
	}
	return decision
}

func (v *fakeView) redirectTo(url string) {
	for _, fn := range v.redirect.snapshot() {
		fn(url)
	}
}

func (v *fakeView) navigateTo(url string) {
	for _, fn := range v.navigate.snapshot() {
		fn(url)
	}
}

type fakeDebugger struct {
	host *fakeHost

	mu        sync.Mutex
	attached  bool
	attachErr error
	sendGate  chan struct{}
	attaches  int
	detaches  int
	scripts   []string
	methods   []string
}

func (d *fakeDebugger) IsAttached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

func (d *fakeDebugger) Attach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attachErr != nil {
		return d.attachErr
	}
	if d.attached {
		return fmt.Errorf("already attached")
	}
	d.attached = true
	d.attaches++
	return nil
}

func (d *fakeDebugger) Detach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached {
		return fmt.Errorf("not attached")
	}
	d.attached = false
	d.detaches++
	return nil
}

func (d *fakeDebugger) Send(method string, params map[string]interface{}) (interface{}, error) {
	d.mu.Lock()
	gate := d.sendGate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached {
		return nil, fmt.Errorf("not attached")
	}
	d.methods = append(d.methods, method)
	if method == "Page.addScriptToEvaluateOnNewDocument" {
		d.scripts = append(d.scripts, params["source"].(string))
		if d.host != nil {
			d.host.record("script")
		}
	}
	return map[string]interface{}{}, nil
}

func (d *fakeDebugger) counts() (attaches, detaches, scripts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attaches, d.detaches, len(d.scripts)
}
