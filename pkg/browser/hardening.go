package browser

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/text/language"

	"github.com/entrhq/pageflow/pkg/config"
	"github.com/entrhq/pageflow/pkg/logging"
)

// IdentityMatcher decides whether a host belongs to a federated-login provider.
type IdentityMatcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewIdentityMatcher compiles host globs such as "*.accounts.google.com".
// '.' separates labels, so "*" never spans a dot.
func NewIdentityMatcher(patterns []string) (*IdentityMatcher, error) {
	m := &IdentityMatcher{patterns: append([]string(nil), patterns...)}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid identity pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// MatchHost reports whether host matches any pattern.
func (m *IdentityMatcher) MatchHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, g := range m.globs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// MatchURL reports whether rawURL points at an identity provider. Unparseable URLs never match.
func (m *IdentityMatcher) MatchURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return m.MatchHost(u.Hostname())
}

// HardeningOptions are the header values a hardened partition presents.
type HardeningOptions struct {
	UserAgent         string
	IdentityUserAgent string
	// Locale is the UI locale, e.g. "de-DE". Empty means en-US.
	Locale   string
	Identity *IdentityMatcher
	Logger   logging.Sink
}

// PartitionHardener installs the header rewrite on each partition exactly once.
// The set of hardened partitions only grows.
type PartitionHardener struct {
	host Host
	opts HardeningOptions

	acceptLanguage string

	mu       sync.Mutex
	hardened map[string]struct{}
}

// NewPartitionHardener creates a hardener. Zero option fields take the config defaults.
func NewPartitionHardener(host Host, opts HardeningOptions) *PartitionHardener {
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.IdentityUserAgent == "" {
		opts.IdentityUserAgent = config.DefaultIdentityUserAgent
	}
	if opts.Identity == nil {
		opts.Identity, _ = NewIdentityMatcher(config.DefaultIdentityPatterns)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &PartitionHardener{
		host:           host,
		opts:           opts,
		acceptLanguage: AcceptLanguage(opts.Locale),
		hardened:       make(map[string]struct{}),
	}
}

// AcceptLanguage builds "<locale>,en;q=0.9" from a UI locale, falling back to en-US.
func AcceptLanguage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil || tag == language.Und {
		tag = language.MustParse(config.DefaultLocale)
	}
	return tag.String() + ",en;q=0.9"
}

// Ensure hardens the named partition if it is not hardened yet.
func (h *PartitionHardener) Ensure(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.hardened[name]; ok {
		return nil
	}

	partition, err := h.host.Partition(name)
	if err != nil {
		return fmt.Errorf("opening partition %s: %w", name, err)
	}
	if err := partition.OnBeforeSendHeaders(h.rewrite); err != nil {
		return fmt.Errorf("installing header rewrite on %s: %w", name, err)
	}

	h.hardened[name] = struct{}{}
	h.opts.Logger.Debugf("partition %s hardened", name)
	return nil
}

// IsHardened reports whether Ensure has succeeded for the partition.
func (h *PartitionHardener) IsHardened(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.hardened[name]
	return ok
}

// UserAgentFor returns the user agent sent for requestURL.
func (h *PartitionHardener) UserAgentFor(requestURL string) string {
	if h.opts.Identity.MatchURL(requestURL) {
		return h.opts.IdentityUserAgent
	}
	return h.opts.UserAgent
}

func (h *PartitionHardener) rewrite(requestURL string, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		if strings.EqualFold(k, "User-Agent") || strings.EqualFold(k, "Accept-Language") {
			continue
		}
		out[k] = v
	}
	out["User-Agent"] = h.UserAgentFor(requestURL)
	out["Accept-Language"] = h.acceptLanguage
	return out
}
