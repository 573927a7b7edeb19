package rumkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumkit/go-rumkit/logging"
)

// testCollector is a minimal collector: it answers status requests
// with a JSON config and records beacon bodies.
type testCollector struct {
	mu           sync.Mutex
	server       *httptest.Server
	statusBody   string
	beaconBodies []string
}

func newTestCollector(t *testing.T) *testCollector {
	t.Helper()
	c := &testCollector{statusBody: `{"capture": true, "multiplicity": 1}`}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			c.mu.Lock()
			body := c.statusBody
			c.mu.Unlock()
			w.Write([]byte(body))
		case http.MethodPost:
			data, _ := io.ReadAll(r.Body)
			c.mu.Lock()
			c.beaconBodies = append(c.beaconBodies, string(data))
			c.mu.Unlock()
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *testCollector) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.beaconBodies...)
}

func newTestAgent(t *testing.T, collector *testCollector) *Agent {
	t.Helper()
	agent, err := New(&Config{
		EndpointURL:               collector.server.URL,
		ApplicationID:             uuid.NewString(),
		ApplicationName:           "integration-test",
		DeviceID:                  4242,
		Logger:                    logging.Discard(),
		StatusRequestRetries:      2,
		StatusRetryInitialDelayMs: 1,
	})
	require.NoError(t, err)
	return agent
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)

	_, err = New(&Config{EndpointURL: "https://c.example.com"})
	assert.Error(t, err)
}

func TestAgentEndToEnd(t *testing.T) {
	collector := newTestCollector(t)
	agent := newTestAgent(t, collector)

	agent.Initialize()
	require.True(t, agent.WaitForInitCompletion(5*time.Second))

	session := agent.CreateSession("")
	beacon := session.Beacon()
	actionID := beacon.CreateID()
	beacon.ReportEvent(actionID, "checkout")
	beacon.ReportValueInt(actionID, "items", 3)
	session.End()

	agent.Shutdown()

	bodies := collector.bodies()
	require.NotEmpty(t, bodies, "shutdown must flush the session")
	joined := strings.Join(bodies, "\n")
	assert.Contains(t, joined, "et=18")
	assert.Contains(t, joined, "et=10")
	assert.Contains(t, joined, "et=12")
	assert.Contains(t, joined, "et=19")
	assert.Contains(t, joined, "vi=4242")
	assert.Contains(t, joined, "an=integration-test")
}

func TestAgentCaptureOffDiscardsData(t *testing.T) {
	collector := newTestCollector(t)
	collector.mu.Lock()
	collector.statusBody = `{"capture": false}`
	collector.mu.Unlock()
	agent := newTestAgent(t, collector)

	agent.Initialize()
	require.True(t, agent.WaitForInitCompletion(5*time.Second))

	session := agent.CreateSession("")
	session.Beacon().ReportEvent(0, "dropped")
	session.End()

	agent.Shutdown()

	assert.Empty(t, collector.bodies(), "capture off must not transmit beacons")
}

func TestCreateSessionAssignsDistinctSessionNumbers(t *testing.T) {
	collector := newTestCollector(t)
	agent := newTestAgent(t, collector)

	first := agent.CreateSession("")
	second := agent.CreateSession("")

	assert.NotEqual(t,
		first.Beacon().Key(), second.Beacon().Key(),
		"each session needs its own beacon key")
}
