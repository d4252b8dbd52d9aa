package browser

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pageflow/pkg/config"
	"github.com/entrhq/pageflow/pkg/logging"
)

// PlaywrightOptions configures the Playwright-backed host.
type PlaywrightOptions struct {
	// Channel selects an installed browser such as "chrome"; empty uses bundled Chromium.
	Channel string
	// SlowMo pauses between driver operations, in milliseconds.
	SlowMo int
	// UserAgent and Locale are also exposed to page script through navigator.
	UserAgent string
	Locale    string
	// Install downloads the driver and browsers before starting.
	Install bool
	// DriverOutput receives driver stdout and stderr. Defaults to io.Discard.
	DriverOutput io.Writer
	Logger       logging.Sink
}

// PlaywrightHost runs sessions in one headed Chromium. Each partition is a
// browser context and each window is a page of that context.
type PlaywrightHost struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    PlaywrightOptions

	mu         sync.Mutex
	partitions map[string]*pwPartition
	closed     bool
}

// NewPlaywrightHost starts the driver and launches a visible browser.
func NewPlaywrightHost(opts PlaywrightOptions) (*PlaywrightHost, error) {
	if opts.DriverOutput == nil {
		opts.DriverOutput = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.Locale == "" {
		opts.Locale = config.DefaultLocale
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  opts.DriverOutput,
		Stderr:  opts.DriverOutput,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(false),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	}
	if opts.Channel != "" {
		launch.Channel = playwright.String(opts.Channel)
	}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(float64(opts.SlowMo))
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	opts.Logger.Infof("browser launched (channel=%q, version=%s)", opts.Channel, browser.Version())
	return &PlaywrightHost{
		pw:         pw,
		browser:    browser,
		opts:       opts,
		partitions: make(map[string]*pwPartition),
	}, nil
}

// Partition returns the browser context for name, creating it on first use.
func (h *PlaywrightHost) Partition(name string) (Partition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if p, ok := h.partitions[name]; ok {
		return p, nil
	}

	bctx, err := h.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(h.opts.UserAgent),
		Locale:    playwright.String(h.opts.Locale),
		// pages follow their window size
		NoViewport: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	p := &pwPartition{name: name, context: bctx, log: h.opts.Logger}
	h.partitions[name] = p
	return p, nil
}

// OpenWindow opens a new page in the partition's context and sizes its window.
func (h *PlaywrightHost) OpenWindow(ctx context.Context, partition Partition, opts WindowOptions) (Window, error) {
	p, ok := partition.(*pwPartition)
	if !ok {
		return nil, fmt.Errorf("partition %s does not belong to this host", partition.Name())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := p.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	win := &pwWindow{page: page, width: opts.Width, height: opts.Height}
	win.view = &pwView{page: page, debugger: &pwDebugger{context: p.context, page: page}}
	if opts.Width > 0 && opts.Height > 0 {
		if err := win.setWindowBounds(p.context); err != nil {
			h.opts.Logger.Debugf("sizing window: %v", err)
		}
	}
	return win, nil
}

// ReleasePartition closes the partition's context and every page still in it.
func (h *PlaywrightHost) ReleasePartition(name string) error {
	h.mu.Lock()
	p, ok := h.partitions[name]
	delete(h.partitions, name)
	h.mu.Unlock()

	if !ok {
		return nil
	}
	return p.context.Close()
}

// Close shuts the browser and the driver down.
func (h *PlaywrightHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.partitions = make(map[string]*pwPartition)
	h.mu.Unlock()

	_ = h.browser.Close()
	if err := h.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type pwPartition struct {
	name    string
	context playwright.BrowserContext
	log     logging.Sink
}

func (p *pwPartition) Name() string { return p.name }

func (p *pwPartition) OnBeforeSendHeaders(rewrite RequestHeaders) error {
	return p.context.Route("**/*", func(route playwright.Route) {
		req := route.Request()
		headers := rewrite(req.URL(), req.Headers())
		if err := route.Continue(playwright.RouteContinueOptions{Headers: headers}); err != nil {
			p.log.Debugf("continuing %s: %v", req.URL(), err)
		}
	})
}

type pwWindow struct {
	page   playwright.Page
	view   *pwView
	width  int
	height int
}

func (w *pwWindow) View() View                      { return w.view }
func (w *pwWindow) ContentSize() (width, height int) { return w.width, w.height }
func (w *pwWindow) Focus() error                     { return w.page.BringToFront() }

func (w *pwWindow) Close() error {
	if w.page.IsClosed() {
		return nil
	}
	return w.page.Close()
}

func (w *pwWindow) IsClosed() bool { return w.page.IsClosed() }

// OnResize never fires: with no fixed viewport the page already fills its window.
func (w *pwWindow) OnResize(func(width, height int)) Subscription {
	return SubscriptionFunc(nil)
}

func (w *pwWindow) OnClosed(fn func()) Subscription {
	var active atomic.Bool
	active.Store(true)
	w.page.OnClose(func(playwright.Page) {
		if active.Load() {
			// handlers run on the driver's dispatch goroutine, which must not block
			go fn()
		}
	})
	return SubscriptionFunc(func() { active.Store(false) })
}

func (w *pwWindow) setWindowBounds(bctx playwright.BrowserContext) error {
	cdp, err := bctx.NewCDPSession(w.page)
	if err != nil {
		return err
	}
	defer cdp.Detach()

	res, err := cdp.Send("Browser.getWindowForTarget", nil)
	if err != nil {
		return err
	}
	m, ok := res.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected getWindowForTarget result %T", res)
	}
	_, err = cdp.Send("Browser.setWindowBounds", map[string]interface{}{
		"windowId": m["windowId"],
		"bounds": map[string]interface{}{
			"width":  w.width,
			"height": w.height,
		},
	})
	return err
}

type pwView struct {
	page     playwright.Page
	debugger *pwDebugger
}

func timeoutFrom(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return playwright.Float(ms)
}

func (v *pwView) Load(ctx context.Context, url string) error {
	_, err := v.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeoutFrom(ctx),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (v *pwView) Reload(ctx context.Context) error {
	_, err := v.page.Reload(playwright.PageReloadOptions{Timeout: timeoutFrom(ctx)})
	if err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

func (v *pwView) URL() string { return v.page.URL() }

// SetBounds is a no-op: the page is the whole content area of its window.
func (v *pwView) SetBounds(width, height int) error { return nil }

func (v *pwView) Evaluate(ctx context.Context, fn string, arg interface{}) (interface{}, error) {
	type result struct {
		value interface{}
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		value, err := v.page.Evaluate(fn, arg)
		ch <- result{value, err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		// the script keeps running in the page; only the wait is abandoned
		return nil, ctx.Err()
	}
}

func (v *pwView) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return v.page.Content()
}

func (v *pwView) Debugger() Debugger { return v.debugger }

var realURL = regexp.MustCompile(`^https?://`)

// OnWindowOpen sees popups only once they exist. A denied popup is closed
// afterwards, so it may already have started loading its URL.
func (v *pwView) OnWindowOpen(fn func(url string) WindowOpenDecision) Subscription {
	var active atomic.Bool
	active.Store(true)
	v.page.OnPopup(func(popup playwright.Page) {
		if !active.Load() {
			return
		}
		go func() {
			target := popup.URL()
			if target == "" || target == "about:blank" {
				_ = popup.WaitForURL(realURL, playwright.PageWaitForURLOptions{
					Timeout:   playwright.Float(5000),
					WaitUntil: playwright.WaitUntilStateCommit,
				})
				target = popup.URL()
			}
			if fn(target) == DenyWindowOpen {
				_ = popup.Close()
			}
		}()
	})
	return SubscriptionFunc(func() { active.Store(false) })
}

func (v *pwView) OnRedirect(fn func(url string)) Subscription {
	var active atomic.Bool
	active.Store(true)
	v.page.OnRequest(func(req playwright.Request) {
		if !active.Load() || !req.IsNavigationRequest() || req.RedirectedFrom() == nil {
			return
		}
		if req.Frame() != v.page.MainFrame() {
			return
		}
		go fn(req.URL())
	})
	return SubscriptionFunc(func() { active.Store(false) })
}

func (v *pwView) OnNavigate(fn func(url string)) Subscription {
	var active atomic.Bool
	active.Store(true)
	v.page.OnFrameNavigated(func(frame playwright.Frame) {
		if !active.Load() || frame.ParentFrame() != nil {
			return
		}
		go fn(frame.URL())
	})
	return SubscriptionFunc(func() { active.Store(false) })
}

type pwDebugger struct {
	context playwright.BrowserContext
	page    playwright.Page

	mu      sync.Mutex
	session playwright.CDPSession
}

func (d *pwDebugger) IsAttached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil
}

func (d *pwDebugger) Attach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return fmt.Errorf("debugger already attached")
	}
	s, err := d.context.NewCDPSession(d.page)
	if err != nil {
		return err
	}
	d.session = s
	return nil
}

func (d *pwDebugger) Detach() error {
	d.mu.Lock()
	s := d.session
	d.session = nil
	d.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Detach()
}

func (d *pwDebugger) Send(method string, params map[string]interface{}) (interface{}, error) {
	// scripts registered over CDP are dropped with the CDP session; playwright
	// init scripts live as long as the page, so the registration goes there
	if method == "Page.addScriptToEvaluateOnNewDocument" {
		source, _ := params["source"].(string)
		if err := d.page.AddInitScript(playwright.Script{Content: playwright.String(source)}); err != nil {
			return nil, err
		}
		return map[string]interface{}{}, nil
	}

	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("debugger not attached")
	}
	return s.Send(method, params)
}
