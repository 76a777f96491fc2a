package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/nao1215/torcheck/internal/cache"
	"github.com/nao1215/torcheck/internal/pipeline"
	"github.com/nao1215/torcheck/internal/source"
)

// Cache keys, one per cached quantity.
const (
	KeyExitList       = "tor_exit_nodes"
	KeyOverlayAddress = "my_tor_ip"
	KeyRealAddress    = "my_ip"
)

// Default endpoints and lifetimes.
const (
	DefaultExitListURL = "https://check.torproject.org/cgi-bin/TorBulkExitList.py?ip=1.1.1.1"
	DefaultAddressURL  = "https://api.ipify.org"

	// DefaultExitListTTL is long because the list changes slowly and the
	// endpoint is comparatively expensive.
	DefaultExitListTTL = 24 * time.Hour

	// DefaultAddressTTL applies to both address lookups.
	DefaultAddressTTL = cache.DefaultTTL
)

// Coordinator owns the cache and both sessions for its lifetime.
//
// Design decision: The exit list and the real address are fetched over the
// direct session and only the overlay address goes through Tor. The exit
// list is public data and the real address must not be observed through
// the proxy, so the overlay session carries exactly one request per
// refresh. Each lookup is cached separately, which means a refresh after
// a partial failure only repeats the lookups that are still missing.
//
// Refresh is not safe for concurrent use. The scheduler serializes it;
// LastResult and Close may be called at any time.
type Coordinator struct {
	direct  source.Session
	overlay source.Session

	fetcher source.Fetcher
	cache   *cache.Cache
	clock   clock.Clock
	logger  *slog.Logger

	exitListURL  string
	addressURL   string
	addressField string
	exitListTTL  time.Duration
	addressTTL   time.Duration

	mu     sync.Mutex
	last   *Result
	closed bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFetcher replaces the default source.Client.
func WithFetcher(f source.Fetcher) Option {
	return func(c *Coordinator) {
		c.fetcher = f
	}
}

// WithCache replaces the coordinator's private cache.
func WithCache(ch *cache.Cache) Option {
	return func(c *Coordinator) {
		c.cache = ch
	}
}

// WithClock sets the time source used for RefreshedAt and the default cache.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithEndpoints overrides the exit list and address URLs.
// Empty values keep the defaults.
func WithEndpoints(exitListURL, addressURL string) Option {
	return func(c *Coordinator) {
		if exitListURL != "" {
			c.exitListURL = exitListURL
		}
		if addressURL != "" {
			c.addressURL = addressURL
		}
	}
}

// WithAddressField makes address bodies parse as JSON, reading the given
// gjson path.
func WithAddressField(field string) Option {
	return func(c *Coordinator) {
		c.addressField = field
	}
}

// WithTTLs overrides the exit list and address lifetimes.
// Non-positive values keep the defaults.
func WithTTLs(exitList, address time.Duration) Option {
	return func(c *Coordinator) {
		if exitList > 0 {
			c.exitListTTL = exitList
		}
		if address > 0 {
			c.addressTTL = address
		}
	}
}

// New creates a Coordinator over the direct and Tor-proxied sessions.
// The coordinator takes ownership of both; Close releases them.
func New(direct, overlay source.Session, opts ...Option) (*Coordinator, error) {
	if direct == nil || overlay == nil {
		return nil, errors.New("coordinator requires both a direct and an overlay session")
	}

	c := &Coordinator{
		direct:      direct,
		overlay:     overlay,
		exitListURL: DefaultExitListURL,
		addressURL:  DefaultAddressURL,
		exitListTTL: DefaultExitListTTL,
		addressTTL:  DefaultAddressTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.fetcher == nil {
		c.fetcher = source.NewClient()
	}
	if c.cache == nil {
		c.cache = cache.New(cache.WithClock(c.clock), cache.WithDefaultTTL(c.addressTTL))
	}

	return c, nil
}

// refreshState is the working set threaded through the refresh steps.
type refreshState struct {
	exits       []string
	overlayAddr string
	realAddr    string
}

// Refresh runs one refresh cycle and returns the merged result.
//
// The returned error wraps ErrAuthFailed or ErrUpdateFailed. On error the
// previous result stays available through LastResult.
func (c *Coordinator) Refresh(ctx context.Context) (Result, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Result{}, ErrClosed
	}

	state := &refreshState{
		exits:       cache.Lookup(c.cache, KeyExitList, []string{}),
		overlayAddr: cache.Lookup(c.cache, KeyOverlayAddress, ""),
		realAddr:    cache.Lookup(c.cache, KeyRealAddress, ""),
	}

	p := pipeline.New(
		pipeline.WithLogger[refreshState](c.logger),
		pipeline.WithRecover[refreshState](source.IsCommunication),
	)
	p.AddSteps(
		pipeline.StepFunc[refreshState]{StepName: "exit-list", Fn: c.refreshExitList},
		pipeline.StepFunc[refreshState]{StepName: "overlay-address", Fn: c.refreshOverlayAddress},
		pipeline.StepFunc[refreshState]{StepName: "real-address", Fn: c.refreshRealAddress},
	)

	if err := p.Execute(ctx, state); err != nil {
		return Result{}, c.escalate(err)
	}

	result := Result{
		ExitIdentifiers:  state.exits,
		OverlayAddress:   state.overlayAddr,
		RealAddress:      state.realAddr,
		RoutedViaOverlay: isRoutedViaOverlay(state.overlayAddr, state.exits),
		RefreshedAt:      c.clock.Now(),
	}

	c.mu.Lock()
	stored := result.Clone()
	c.last = &stored
	c.mu.Unlock()

	c.logger.Debug("refresh completed",
		"exit_count", len(result.ExitIdentifiers),
		"overlay_address", result.OverlayAddress,
		"real_address", result.RealAddress,
		"routed", result.RoutedViaOverlay,
		"cached_entries", c.cache.Len(),
	)

	return result.Clone(), nil
}

// escalate maps an aborting step error onto a failure signal.
func (c *Coordinator) escalate(err error) error {
	if source.IsAuthentication(err) {
		c.logger.Error("refresh rejected by endpoint", "error", err)
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	c.logger.Error("refresh failed", "error", err)
	return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
}

// refreshExitList fetches the exit list over the direct session when the
// cached list is empty.
func (c *Coordinator) refreshExitList(ctx context.Context, state *refreshState) error {
	if len(state.exits) > 0 {
		return nil
	}

	body, err := c.fetcher.Fetch(ctx, c.direct, c.exitListURL)
	if err != nil {
		c.logCommunication(err, "exit list")
		return err
	}

	exits := source.ParseExitList(body)
	state.exits = c.cache.Set(KeyExitList, exits, c.exitListTTL).([]string)
	return nil
}

// refreshOverlayAddress looks up the address seen through Tor.
func (c *Coordinator) refreshOverlayAddress(ctx context.Context, state *refreshState) error {
	if state.overlayAddr != "" {
		return nil
	}

	addr, err := c.fetchAddress(ctx, c.overlay)
	if err != nil {
		c.logCommunication(err, "overlay address")
		return err
	}
	state.overlayAddr = c.cache.Set(KeyOverlayAddress, addr, c.addressTTL).(string)
	return nil
}

// refreshRealAddress looks up the address seen directly. A communication
// failure here is tolerated like the other two lookups: the address stays
// unknown and is retried on the next refresh.
func (c *Coordinator) refreshRealAddress(ctx context.Context, state *refreshState) error {
	if state.realAddr != "" {
		return nil
	}

	addr, err := c.fetchAddress(ctx, c.direct)
	if err != nil {
		c.logCommunication(err, "real address")
		return err
	}
	state.realAddr = c.cache.Set(KeyRealAddress, addr, c.addressTTL).(string)
	return nil
}

// fetchAddress fetches and parses the address endpoint over session.
// A body that does not yield an address is treated like a failed lookup:
// the address stays unknown, nothing is cached and the next refresh tries
// again.
func (c *Coordinator) fetchAddress(ctx context.Context, session source.Session) (string, error) {
	body, err := c.fetcher.Fetch(ctx, session, c.addressURL)
	if err != nil {
		return "", err
	}
	addr, err := source.ParseAddress(body, c.addressField)
	if err != nil {
		return "", &source.Error{Kind: source.KindCommunication, URL: c.addressURL, Err: err}
	}
	return addr, nil
}

func (c *Coordinator) logCommunication(err error, what string) {
	if source.IsCommunication(err) {
		c.logger.Debug("error communicating with endpoint, keeping previous value",
			"lookup", what,
			"error", err,
		)
	}
}

// LastResult returns the most recent successful result.
// The boolean is false until a refresh has succeeded.
func (c *Coordinator) LastResult() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, false
	}
	return c.last.Clone(), true
}

// Close releases both sessions. It is safe to call more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	return multierr.Combine(
		releaseSession(c.direct),
		releaseSession(c.overlay),
	)
}

// releaseSession drops pooled connections and closes the session when it
// owns other resources.
func releaseSession(s source.Session) error {
	if idle, ok := s.(interface{ CloseIdleConnections() }); ok {
		idle.CloseIdleConnections()
	}
	if closer, ok := s.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
	}
	return nil
}
