package communication

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rumkit/go-rumkit/caching"
	"github.com/rumkit/go-rumkit/logging"
	"github.com/rumkit/go-rumkit/protocol"
)

func newStandaloneSession(t *testing.T) (*Session, *caching.Cache) {
	t.Helper()
	cache := caching.NewCache(logging.Discard())
	timing := &stubTiming{now: 1000}
	config := protocol.NewBeaconConfig(
		&protocol.AppConfig{ApplicationID: "app", DeviceID: 99},
		protocol.PrivacyConfig{
			DataCollectionLevel: protocol.DataCollectionUserBehavior,
			CrashReportingLevel: protocol.CrashReportingOptIn,
		},
		&protocol.HTTPClientConfig{BaseURL: "http://collector.invalid", ServerID: 1, ApplicationID: "app"},
	)
	beacon := protocol.NewBeacon(protocol.BeaconInit{
		Logger:            logging.Discard(),
		Cache:             cache,
		SessionIDProvider: stubSessionID{},
		ThreadIDProvider:  stubThreadID{},
		Timing:            timing,
		Random:            stubRandom{},
	}, config)
	return NewSession(beacon), cache
}

func TestNewSessionRecordsSessionStart(t *testing.T) {
	session, _ := newStandaloneSession(t)
	assert.False(t, session.IsEmpty(), "session start event must be buffered")
	assert.False(t, session.IsFinished())
}

func TestEndIsIdempotent(t *testing.T) {
	session, cache := newStandaloneSession(t)
	session.End()
	assert.True(t, session.IsFinished())
	sizeAfterFirstEnd := cache.NumBytesInCache()

	session.End()
	assert.Equal(t, sizeAfterFirstEnd, cache.NumBytesInCache(), "second End must not record another event")
}

func TestUpdateServerConfigMarksConfigured(t *testing.T) {
	session, _ := newStandaloneSession(t)
	assert.False(t, session.IsConfigured())

	session.UpdateServerConfig(protocol.DefaultServerConfig())

	assert.True(t, session.IsConfigured())
	assert.True(t, session.IsDataSendingAllowed())
}

func TestUpdateServerConfigZeroMultiplicity(t *testing.T) {
	session, _ := newStandaloneSession(t)

	config := protocol.DefaultServerConfig()
	config.Multiplicity = 0
	session.UpdateServerConfig(config)

	assert.True(t, session.IsEmpty(), "sampled-out session must drop its data")
	assert.False(t, session.IsDataSendingAllowed())
}

func TestDisableCaptureAndClear(t *testing.T) {
	session, _ := newStandaloneSession(t)
	session.Beacon().ReportEvent(0, "event")

	session.DisableCaptureAndClear()

	assert.True(t, session.IsEmpty())
	assert.False(t, session.IsDataSendingAllowed())
}
