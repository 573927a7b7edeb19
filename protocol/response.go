package protocol

import "encoding/json"

// StatusResponse is the collector's answer to a status or beacon
// request. A nil *StatusResponse means the request never produced an
// HTTP response (transport failure).
type StatusResponse struct {
	Code       int
	Attributes ResponseAttributes
}

// Erroneous reports whether the response must be treated as a
// failure.
func (r *StatusResponse) Erroneous() bool {
	return r == nil || r.Code >= 400
}

// ResponseAttributes is the server-configuration patch carried by a
// status response. Pointer fields distinguish "absent" from zero:
// absent fields leave the current configuration value untouched.
type ResponseAttributes struct {
	Capture             *bool `json:"capture"`
	CaptureErrors       *bool `json:"captureErrors"`
	CaptureCrashes      *bool `json:"captureCrashes"`
	BeaconSizeBytes     *int  `json:"beaconSizeInBytes"`
	SendIntervalMs      *int  `json:"sendIntervalMs"`
	SessionDurationMs   *int  `json:"sessionDurationMs"`
	SessionTimeoutMs    *int  `json:"sessionTimeoutMs"`
	MaxEventsPerSession *int  `json:"maxEventsPerSession"`
	Multiplicity        *int  `json:"multiplicity"`
	VisitStoreVersion   *int  `json:"visitStoreVersion"`
	ServerID            *int  `json:"serverId"`
}

// ParseStatusResponse builds a StatusResponse from an HTTP status
// code and response body. A body that is empty or not valid JSON
// yields a response without attributes; the status code alone decides
// whether the response is erroneous.
func ParseStatusResponse(code int, body []byte) *StatusResponse {
	response := &StatusResponse{Code: code}
	if len(body) == 0 {
		return response
	}
	// best effort: an unparsable body carries no configuration
	_ = json.Unmarshal(body, &response.Attributes)
	return response
}

// ApplyTo merges the attributes onto base and returns the resulting
// configuration. base is not modified.
func (a ResponseAttributes) ApplyTo(base *ServerConfig) *ServerConfig {
	next := *base
	if a.Capture != nil {
		next.Capture = *a.Capture
	}
	if a.CaptureErrors != nil {
		next.CaptureErrors = *a.CaptureErrors
	}
	if a.CaptureCrashes != nil {
		next.CaptureCrashes = *a.CaptureCrashes
	}
	if a.BeaconSizeBytes != nil {
		next.BeaconSizeBytes = *a.BeaconSizeBytes
	}
	if a.SendIntervalMs != nil {
		next.SendIntervalMs = *a.SendIntervalMs
	}
	if a.SessionDurationMs != nil {
		next.SessionDurationMs = *a.SessionDurationMs
	}
	if a.SessionTimeoutMs != nil {
		next.SessionTimeoutMs = *a.SessionTimeoutMs
	}
	if a.MaxEventsPerSession != nil {
		next.MaxEventsPerSession = *a.MaxEventsPerSession
	}
	if a.Multiplicity != nil {
		next.Multiplicity = *a.Multiplicity
	}
	if a.VisitStoreVersion != nil {
		next.VisitStoreVersion = *a.VisitStoreVersion
	}
	if a.ServerID != nil {
		next.ServerID = *a.ServerID
	}
	return &next
}
