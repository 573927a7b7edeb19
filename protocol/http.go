package protocol

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rumkit/go-rumkit/logging"
)

// AdditionalParams are extra query parameters appended verbatim to
// every request.
type AdditionalParams map[string]string

// HTTPClient is the transport contract the beacon and the sending
// state machine depend on. Implementations return nil when the
// request failed at the transport level.
type HTTPClient interface {
	SendStatusRequest(params AdditionalParams) *StatusResponse
	SendBeaconRequest(clientIP string, data []byte, params AdditionalParams) *StatusResponse
}

// HTTPClientProvider creates HTTPClients for a given configuration.
// The sender asks for a fresh client per send cycle so that server-id
// changes take effect.
type HTTPClientProvider interface {
	CreateClient(config *HTTPClientConfig) HTTPClient
}

type defaultHTTPClientProvider struct {
	logger logging.Logger
}

// NewHTTPClientProvider returns the net/http backed provider.
func NewHTTPClientProvider(logger logging.Logger) HTTPClientProvider {
	return &defaultHTTPClientProvider{logger: logger}
}

func (p *defaultHTTPClientProvider) CreateClient(config *HTTPClientConfig) HTTPClient {
	return NewHTTPClient(p.logger, config)
}

// gzipThreshold is the body size above which beacon payloads are
// gzip-compressed before transmission.
const gzipThreshold = 1024

const defaultHTTPTimeout = 30 * time.Second

type httpClient struct {
	logger     logging.Logger
	monitorURL string
	client     *http.Client
}

// NewHTTPClient creates an HTTPClient talking to the monitor endpoint
// described by config.
func NewHTTPClient(logger logging.Logger, config *HTTPClientConfig) HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &httpClient{
		logger:     logger,
		monitorURL: buildMonitorURL(config),
		client:     &http.Client{Timeout: timeout},
	}
}

func buildMonitorURL(config *HTTPClientConfig) string {
	var b bytes.Buffer
	b.WriteString(config.BaseURL)
	b.WriteString("?type=m")
	appendQueryParam(&b, "srvid", strconv.Itoa(config.ServerID))
	appendQueryParam(&b, "app", config.ApplicationID)
	appendQueryParam(&b, "va", AgentVersion)
	appendQueryParam(&b, "pt", strconv.Itoa(PlatformType))
	appendQueryParam(&b, "tt", AgentTechnologyType)
	return b.String()
}

func appendQueryParam(b *bytes.Buffer, key, value string) {
	b.WriteByte('&')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(value))
}

func appendAdditionalParams(requestURL string, params AdditionalParams) string {
	if len(params) == 0 {
		return requestURL
	}
	var b bytes.Buffer
	b.WriteString(requestURL)
	for key, value := range params {
		appendQueryParam(&b, key, value)
	}
	return b.String()
}

func (c *httpClient) SendStatusRequest(params AdditionalParams) *StatusResponse {
	requestURL := appendAdditionalParams(c.monitorURL, params)
	if c.logger.DebugEnabled() {
		c.logger.Debug("HTTPClient sendStatusRequest to %s", requestURL)
	}
	req, err := http.NewRequest(http.MethodGet, requestURL, nil)
	if err != nil {
		c.logger.Error("HTTPClient invalid status request URL: %v", err)
		return nil
	}
	return c.do(req)
}

func (c *httpClient) SendBeaconRequest(clientIP string, data []byte, params AdditionalParams) *StatusResponse {
	requestURL := appendAdditionalParams(c.monitorURL, params)
	if c.logger.DebugEnabled() {
		c.logger.Debug("HTTPClient sendBeaconRequest to %s (%d bytes)", requestURL, len(data))
	}

	body := data
	compressed := false
	if len(data) > gzipThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write(data) // in-memory write, cannot fail
		zw.Close()
		body = buf.Bytes()
		compressed = true
	}

	req, err := http.NewRequest(http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("HTTPClient invalid beacon request URL: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if clientIP != "" {
		req.Header.Set("X-Client-IP", clientIP)
	}
	return c.do(req)
}

func (c *httpClient) do(req *http.Request) *StatusResponse {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warning("HTTPClient request failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warning("HTTPClient reading response failed: %v", err)
		return nil
	}
	return ParseStatusResponse(resp.StatusCode, body)
}
