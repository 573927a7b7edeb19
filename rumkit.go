// Package rumkit implements a client-side user-monitoring agent: it
// captures application events on a device, serialises them into the
// collector's beacon wire format, buffers them in a bounded in-memory
// cache, and transmits them in size-limited chunks from a background
// sender.
package rumkit

import (
	"time"

	"github.com/rumkit/go-rumkit/caching"
	"github.com/rumkit/go-rumkit/communication"
	"github.com/rumkit/go-rumkit/logging"
	"github.com/rumkit/go-rumkit/protocol"
	"github.com/rumkit/go-rumkit/providers"
)

// Agent is one monitoring agent instance. Create it with New, start
// the background sender with Initialize, and stop it with Shutdown.
type Agent struct {
	logger logging.Logger
	config *Config

	app     *protocol.AppConfig
	privacy protocol.PrivacyConfig

	cache             *caching.Cache
	sender            *communication.BeaconSender
	timing            providers.TimingProvider
	threadIDProvider  providers.ThreadIDProvider
	sessionIDProvider providers.SessionIDProvider
	random            providers.RandomNumberGenerator
}

// New builds an agent from cfg. The sender is not started yet.
func New(cfg *Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()

	app := &protocol.AppConfig{
		ApplicationID:      cfg.ApplicationID,
		ApplicationName:    cfg.ApplicationName,
		ApplicationVersion: cfg.ApplicationVersion,
		OperatingSystem:    cfg.OperatingSystem,
		Manufacturer:       cfg.Manufacturer,
		ModelID:            cfg.ModelID,
		DeviceID:           cfg.DeviceID,
	}
	privacy := protocol.PrivacyConfig{
		DataCollectionLevel: protocol.DataCollectionLevel(cfg.dataCollectionLevel()),
		CrashReportingLevel: protocol.CrashReportingLevel(cfg.crashReportingLevel()),
	}
	httpConfig := &protocol.HTTPClientConfig{
		BaseURL:       cfg.EndpointURL,
		ServerID:      cfg.serverID(),
		ApplicationID: cfg.ApplicationID,
		Timeout:       cfg.httpTimeout(),
	}

	random := providers.NewRandomNumberGenerator()
	timing := providers.NewTimingProvider()
	cache := caching.NewCache(logger)

	cacheConfig := caching.DefaultConfig()
	if cfg.CacheMaxRecordAgeMs > 0 {
		cacheConfig.MaxRecordAge = time.Duration(cfg.CacheMaxRecordAgeMs) * time.Millisecond
	}
	if cfg.CacheSizeLowerBoundByte > 0 {
		cacheConfig.CacheSizeLowerBound = cfg.CacheSizeLowerBoundByte
	}
	if cfg.CacheSizeUpperBoundByte > 0 {
		cacheConfig.CacheSizeUpperBound = cfg.CacheSizeUpperBoundByte
	}
	evictor := caching.NewEvictor(logger, cache, cacheConfig, timing)

	ctx := communication.NewSendingContext(
		logger,
		httpConfig,
		protocol.NewHTTPClientProvider(logger),
		timing,
		communication.ContextOptions{
			StatusRequestRetries:    cfg.StatusRequestRetries,
			StatusRetryInitialDelay: time.Duration(cfg.StatusRetryInitialDelayMs) * time.Millisecond,
			StatusCheckInterval:     time.Duration(cfg.StatusCheckIntervalMs) * time.Millisecond,
		},
	)

	return &Agent{
		logger:            logger,
		config:            cfg,
		app:               app,
		privacy:           privacy,
		cache:             cache,
		sender:            communication.NewBeaconSender(logger, ctx, evictor),
		timing:            timing,
		threadIDProvider:  providers.NewThreadIDProvider(),
		sessionIDProvider: providers.NewSessionIDProvider(random),
		random:            random,
	}, nil
}

// Initialize starts the background sender. The initial collector
// handshake runs asynchronously; use WaitForInitCompletion to block
// on it.
func (a *Agent) Initialize() {
	a.sender.Initialize()
}

// WaitForInitCompletion blocks until the initial handshake finished,
// bounded by timeout when positive. Returns whether initialisation
// succeeded.
func (a *Agent) WaitForInitCompletion(timeout time.Duration) bool {
	if timeout > 0 {
		return a.sender.WaitForInitTimeout(timeout)
	}
	return a.sender.WaitForInit()
}

// CreateSession starts a new session for the given client IP (pass ""
// to let the collector determine the address) and registers it with
// the sender.
func (a *Agent) CreateSession(clientIP string) *communication.Session {
	httpConfig := &protocol.HTTPClientConfig{
		BaseURL:       a.config.EndpointURL,
		ServerID:      a.config.serverID(),
		ApplicationID: a.config.ApplicationID,
		Timeout:       a.config.httpTimeout(),
	}
	beaconConfig := protocol.NewBeaconConfig(a.app, a.privacy, httpConfig)
	beacon := protocol.NewBeacon(protocol.BeaconInit{
		Logger:            a.logger,
		Cache:             a.cache,
		ClientIPAddress:   clientIP,
		SessionIDProvider: a.sessionIDProvider,
		ThreadIDProvider:  a.threadIDProvider,
		Timing:            a.timing,
		Random:            a.random,
		ChunkReserve:      a.config.ChunkReserveBytes,
	}, beaconConfig)

	session := communication.NewSession(beacon)
	a.sender.Context().AddSession(session)
	return session
}

// Shutdown stops the sender, giving already-buffered data one final
// transmission attempt.
func (a *Agent) Shutdown() {
	a.sender.Shutdown()
}
