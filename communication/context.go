package communication

import (
	"sync"
	"time"

	"github.com/rumkit/go-rumkit/logging"
	"github.com/rumkit/go-rumkit/protocol"
	"github.com/rumkit/go-rumkit/providers"
)

const (
	defaultStatusRequestRetries    = 5
	defaultStatusRetryInitialDelay = time.Second
	defaultStatusCheckInterval     = 2 * time.Hour
	defaultCaptureOnTick           = time.Second
)

// ContextOptions are the pacing knobs of the sending state machine.
// Zero values fall back to the defaults.
type ContextOptions struct {
	// StatusRequestRetries bounds the attempts of one status request
	// cycle.
	StatusRequestRetries int
	// StatusRetryInitialDelay is the first sleep between status
	// request attempts; subsequent sleeps grow linearly.
	StatusRetryInitialDelay time.Duration
	// StatusCheckInterval is the polling interval while capture is
	// off.
	StatusCheckInterval time.Duration
	// CaptureOnTick is the pause between steady-state flush cycles.
	CaptureOnTick time.Duration
}

// SendingContext is the shared mutable state of the sending state
// machine. All fields are owned by the sender goroutine except the
// shutdown latch and the session registry.
type SendingContext struct {
	logger             logging.Logger
	httpClientProvider protocol.HTTPClientProvider
	timing             providers.TimingProvider

	statusRequestRetries    int
	statusRetryInitialDelay time.Duration
	statusCheckInterval     time.Duration
	captureOnTick           time.Duration

	shutdown      *latch
	initComplete  *latch
	initSucceeded bool // written once before initComplete is set

	state State

	mu           sync.Mutex
	httpConfig   *protocol.HTTPClientConfig
	serverConfig *protocol.ServerConfig
	sessions     []*Session

	lastOpenSessionSend int64
	lastStatusCheck     int64
}

// NewSendingContext creates the context in the Init state.
func NewSendingContext(
	logger logging.Logger,
	httpConfig *protocol.HTTPClientConfig,
	httpClientProvider protocol.HTTPClientProvider,
	timing providers.TimingProvider,
	options ContextOptions,
) *SendingContext {
	if options.StatusRequestRetries <= 0 {
		options.StatusRequestRetries = defaultStatusRequestRetries
	}
	if options.StatusRetryInitialDelay <= 0 {
		options.StatusRetryInitialDelay = defaultStatusRetryInitialDelay
	}
	if options.StatusCheckInterval <= 0 {
		options.StatusCheckInterval = defaultStatusCheckInterval
	}
	if options.CaptureOnTick <= 0 {
		options.CaptureOnTick = defaultCaptureOnTick
	}
	return &SendingContext{
		logger:                  logger,
		httpClientProvider:      httpClientProvider,
		timing:                  timing,
		statusRequestRetries:    options.StatusRequestRetries,
		statusRetryInitialDelay: options.StatusRetryInitialDelay,
		statusCheckInterval:     options.StatusCheckInterval,
		captureOnTick:           options.CaptureOnTick,
		shutdown:                newLatch(),
		initComplete:            newLatch(),
		state:                   StateInit,
		httpConfig:              httpConfig,
		serverConfig:            protocol.DefaultServerConfig(),
	}
}

// ExecuteCurrentState runs one tick of the state machine. A pending
// shutdown request redirects the transition to the current state's
// shutdown state.
func (c *SendingContext) ExecuteCurrentState() {
	current := c.state
	next := current.execute(c)
	if c.IsShutdownRequested() {
		next = current.shutdownState()
	}
	if next != current {
		if c.logger.DebugEnabled() {
			c.logger.Debug("SendingContext state change %s -> %s", current, next)
		}
		c.state = next
	}
}

// CurrentState returns the state the machine is in.
func (c *SendingContext) CurrentState() State {
	return c.state
}

// RequestShutdown asks the sender to wind down. The transition
// happens on the next tick; a sleeping sender wakes up immediately.
func (c *SendingContext) RequestShutdown() {
	c.shutdown.Set()
}

// IsShutdownRequested reports whether RequestShutdown was called.
func (c *SendingContext) IsShutdownRequested() bool {
	return c.shutdown.IsSet()
}

// Sleep pauses for d or until shutdown is requested, whichever comes
// first.
func (c *SendingContext) Sleep(d time.Duration) {
	c.shutdown.WaitFor(d)
}

func (c *SendingContext) initCompleted(success bool) {
	c.initSucceeded = success
	c.initComplete.Set()
}

// WaitForInit blocks until the Init state finished and reports
// whether initialisation succeeded.
func (c *SendingContext) WaitForInit() bool {
	c.initComplete.Wait()
	return c.initSucceeded
}

// WaitForInitTimeout is WaitForInit bounded by d. Returns false when
// d elapses first.
func (c *SendingContext) WaitForInitTimeout(d time.Duration) bool {
	if !c.initComplete.WaitFor(d) {
		return false
	}
	return c.initSucceeded
}

// InitCompleted reports whether the Init state has finished.
func (c *SendingContext) InitCompleted() bool {
	return c.initComplete.IsSet()
}

// GetHTTPClient creates an HTTP client for the current configuration.
func (c *SendingContext) GetHTTPClient() protocol.HTTPClient {
	c.mu.Lock()
	config := c.httpConfig
	c.mu.Unlock()
	return c.httpClientProvider.CreateClient(config)
}

// HTTPClientProvider returns the provider sessions send through.
func (c *SendingContext) HTTPClientProvider() protocol.HTTPClientProvider {
	return c.httpClientProvider
}

// HandleStatusResponse merges a successful response's attributes into
// the context's server configuration. A changed server id yields a
// fresh HTTP client configuration for subsequent requests.
func (c *SendingContext) HandleStatusResponse(response *protocol.StatusResponse) {
	if response.Erroneous() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverConfig = response.Attributes.ApplyTo(c.serverConfig)
	if c.serverConfig.ServerID != c.httpConfig.ServerID {
		next := *c.httpConfig
		next.ServerID = c.serverConfig.ServerID
		c.httpConfig = &next
	}
}

// ServerConfig returns the context's current server configuration
// snapshot.
func (c *SendingContext) ServerConfig() *protocol.ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverConfig
}

// Capture reports whether the collector currently allows capturing.
func (c *SendingContext) Capture() bool {
	return c.ServerConfig().Capture
}

// SendInterval returns the collector-configured flush interval.
func (c *SendingContext) SendInterval() time.Duration {
	return time.Duration(c.ServerConfig().SendIntervalMs) * time.Millisecond
}

// CurrentTimestamp returns the timing provider's current time in
// milliseconds.
func (c *SendingContext) CurrentTimestamp() int64 {
	return c.timing.TimestampMilliseconds()
}

// AddSession registers a session with the sender.
func (c *SendingContext) AddSession(session *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, session)
}

// RemoveSession drops a session from the registry.
func (c *SendingContext) RemoveSession(session *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.sessions {
		if s == session {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			return
		}
	}
}

// SessionCount returns the number of registered sessions.
func (c *SendingContext) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *SendingContext) sessionsSnapshot() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]*Session, len(c.sessions))
	copy(snapshot, c.sessions)
	return snapshot
}

// NotConfiguredSessions returns the sessions still waiting for a
// server configuration.
func (c *SendingContext) NotConfiguredSessions() []*Session {
	return c.filterSessions(func(s *Session) bool { return !s.IsConfigured() })
}

// OpenConfiguredSessions returns the configured sessions that have
// not finished yet.
func (c *SendingContext) OpenConfiguredSessions() []*Session {
	return c.filterSessions(func(s *Session) bool { return s.IsConfigured() && !s.IsFinished() })
}

// FinishedConfiguredSessions returns the configured sessions that
// have ended.
func (c *SendingContext) FinishedConfiguredSessions() []*Session {
	return c.filterSessions(func(s *Session) bool { return s.IsConfigured() && s.IsFinished() })
}

func (c *SendingContext) filterSessions(keep func(*Session) bool) []*Session {
	var matching []*Session
	for _, s := range c.sessionsSnapshot() {
		if keep(s) {
			matching = append(matching, s)
		}
	}
	return matching
}

// DisableCaptureAndClear turns capturing off on every session and
// discards their buffered data.
func (c *SendingContext) DisableCaptureAndClear() {
	for _, s := range c.sessionsSnapshot() {
		s.DisableCaptureAndClear()
	}
}

// LastOpenSessionSend returns when open-session beacons were last
// flushed.
func (c *SendingContext) LastOpenSessionSend() int64 {
	return c.lastOpenSessionSend
}

// SetLastOpenSessionSend records when open-session beacons were last
// flushed.
func (c *SendingContext) SetLastOpenSessionSend(timestamp int64) {
	c.lastOpenSessionSend = timestamp
}

// LastStatusCheck returns when the collector status was last polled.
func (c *SendingContext) LastStatusCheck() int64 {
	return c.lastStatusCheck
}

// SetLastStatusCheck records when the collector status was last
// polled.
func (c *SendingContext) SetLastStatusCheck(timestamp int64) {
	c.lastStatusCheck = timestamp
}
