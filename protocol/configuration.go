package protocol

import (
	"sync"
	"time"
)

// DataCollectionLevel is the privacy level the end user consented to.
type DataCollectionLevel int32

const (
	DataCollectionOff          DataCollectionLevel = 0
	DataCollectionPerformance  DataCollectionLevel = 1
	DataCollectionUserBehavior DataCollectionLevel = 2
)

// CrashReportingLevel is the end user's consent for crash reports.
type CrashReportingLevel int32

const (
	CrashReportingOff    CrashReportingLevel = 0
	CrashReportingOptOut CrashReportingLevel = 1
	CrashReportingOptIn  CrashReportingLevel = 2
)

// PrivacyConfig derives the per-capability gates from the two consent
// levels. The zero value is the most restrictive configuration.
type PrivacyConfig struct {
	DataCollectionLevel DataCollectionLevel
	CrashReportingLevel CrashReportingLevel
}

func (p PrivacyConfig) DeviceIDSendingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

func (p PrivacyConfig) SessionNumberReportingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

func (p PrivacyConfig) SessionReportingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}

func (p PrivacyConfig) ActionReportingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}

func (p PrivacyConfig) ValueReportingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

func (p PrivacyConfig) EventReportingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

func (p PrivacyConfig) ErrorReportingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}

func (p PrivacyConfig) CrashReportingAllowed() bool {
	return p.CrashReportingLevel == CrashReportingOptIn
}

func (p PrivacyConfig) UserIdentificationAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

func (p PrivacyConfig) WebRequestTracingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}

// AppConfig carries the application and device identity fixed at
// agent construction.
type AppConfig struct {
	ApplicationID      string
	ApplicationName    string
	ApplicationVersion string
	OperatingSystem    string
	Manufacturer       string
	ModelID            string
	DeviceID           int64
}

// PercentEncodedApplicationID returns the application id in the form
// used inside web request tags.
func (a *AppConfig) PercentEncodedApplicationID() string {
	return PercentEncode(a.ApplicationID, tagReservedCharacters...)
}

// HTTPClientConfig is everything the HTTP client needs to address the
// collector.
type HTTPClientConfig struct {
	BaseURL       string
	ServerID      int
	ApplicationID string
	Timeout       time.Duration
}

// Server configuration defaults, applied until the collector's first
// status response is installed.
const (
	DefaultBeaconSizeBytes     = 30 * 1024
	DefaultSendIntervalMs      = 120_000
	DefaultSessionDurationMs   = 360 * 60 * 1000
	DefaultSessionTimeoutMs    = 600 * 1000
	DefaultMaxEventsPerSession = 200
	DefaultMultiplicity        = 1
	DefaultVisitStoreVersion   = 1
	DefaultServerID            = 1
)

// ServerConfig is the collector-discovered configuration. Instances
// are immutable; updates replace the whole value.
type ServerConfig struct {
	Capture             bool
	CaptureErrors       bool
	CaptureCrashes      bool
	BeaconSizeBytes     int
	SendIntervalMs      int
	SessionDurationMs   int
	SessionTimeoutMs    int
	MaxEventsPerSession int
	Multiplicity        int
	VisitStoreVersion   int
	ServerID            int
}

// DefaultServerConfig returns the configuration in effect before the
// collector has responded.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Capture:             true,
		CaptureErrors:       true,
		CaptureCrashes:      true,
		BeaconSizeBytes:     DefaultBeaconSizeBytes,
		SendIntervalMs:      DefaultSendIntervalMs,
		SessionDurationMs:   DefaultSessionDurationMs,
		SessionTimeoutMs:    DefaultSessionTimeoutMs,
		MaxEventsPerSession: DefaultMaxEventsPerSession,
		Multiplicity:        DefaultMultiplicity,
		VisitStoreVersion:   DefaultVisitStoreVersion,
		ServerID:            DefaultServerID,
	}
}

// SendingDataAllowed reports whether any data may go out at all.
func (c *ServerConfig) SendingDataAllowed() bool {
	return c.Capture && c.Multiplicity > 0
}

func (c *ServerConfig) SendingErrorsAllowed() bool {
	return c.SendingDataAllowed() && c.CaptureErrors
}

func (c *ServerConfig) SendingCrashesAllowed() bool {
	return c.SendingDataAllowed() && c.CaptureCrashes
}

// ServerConfigUpdateCallback is notified whenever a new server
// configuration is installed via UpdateServerConfig.
type ServerConfigUpdateCallback func(*ServerConfig)

// BeaconConfig is the composite configuration a beacon consumes. The
// server configuration slot is swapped as a whole so that readers
// never observe a partial update.
type BeaconConfig struct {
	App     *AppConfig
	Privacy PrivacyConfig

	mu             sync.RWMutex
	httpConfig     *HTTPClientConfig
	serverConfig   *ServerConfig
	serverConfSet  bool
	updateCallback ServerConfigUpdateCallback
}

// NewBeaconConfig creates a BeaconConfig with the default server
// configuration installed but not yet marked as received.
func NewBeaconConfig(app *AppConfig, privacy PrivacyConfig, httpConfig *HTTPClientConfig) *BeaconConfig {
	return &BeaconConfig{
		App:          app,
		Privacy:      privacy,
		httpConfig:   httpConfig,
		serverConfig: DefaultServerConfig(),
	}
}

// HTTPConfig returns the current HTTP client configuration. The
// configuration is replaced when a server-config update carries a new
// server id.
func (c *BeaconConfig) HTTPConfig() *HTTPClientConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpConfig
}

// ServerConfig returns the current server configuration snapshot.
func (c *BeaconConfig) ServerConfig() *ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverConfig
}

// ServerConfigSet reports whether a server configuration has been
// installed (initialized, updated, or forced via capture toggling).
func (c *BeaconConfig) ServerConfigSet() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverConfSet
}

// InitializeServerConfig installs sc unless a configuration has
// already been set. The update callback is not invoked.
func (c *BeaconConfig) InitializeServerConfig(sc *ServerConfig) {
	if sc == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverConfSet {
		return
	}
	c.serverConfig = sc
	c.serverConfSet = true
}

// UpdateServerConfig replaces the server configuration and notifies
// the registered callback.
func (c *BeaconConfig) UpdateServerConfig(sc *ServerConfig) {
	if sc == nil {
		return
	}
	c.mu.Lock()
	c.serverConfig = sc
	c.serverConfSet = true
	if sc.ServerID != c.httpConfig.ServerID {
		next := *c.httpConfig
		next.ServerID = sc.ServerID
		c.httpConfig = &next
	}
	callback := c.updateCallback
	c.mu.Unlock()

	if callback != nil {
		callback(sc)
	}
}

// SetServerConfigUpdateCallback registers the single observer invoked
// on configuration updates. Pass nil to clear it.
func (c *BeaconConfig) SetServerConfigUpdateCallback(callback ServerConfigUpdateCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCallback = callback
}

// EnableCapture flips capture on, keeping all other fields.
func (c *BeaconConfig) EnableCapture() {
	c.toggleCapture(true)
}

// DisableCapture flips capture off, keeping all other fields.
func (c *BeaconConfig) DisableCapture() {
	c.toggleCapture(false)
}

func (c *BeaconConfig) toggleCapture(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := *c.serverConfig
	next.Capture = enabled
	c.serverConfig = &next
	c.serverConfSet = true
}
