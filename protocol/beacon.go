package protocol

import (
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rumkit/go-rumkit/caching"
	"github.com/rumkit/go-rumkit/logging"
	"github.com/rumkit/go-rumkit/providers"
)

const (
	// maxNameLength is the cap applied to names and tags before
	// encoding.
	maxNameLength = 250

	tagPrefix = "MT"

	beaconDataDelimiter = '&'
)

// DefaultChunkReserve is subtracted from the server-configured beacon
// size when chunking, leaving headroom for the mutable prefix growing
// between chunks. Tunable through the agent configuration.
const DefaultChunkReserve = 1024

// tagReservedCharacters are additionally escaped inside values so
// that the underscore stays unambiguous as the separator inside web
// request tags.
var tagReservedCharacters = []byte{'_'}

// Action carries the data of a completed user action for
// serialisation.
type Action struct {
	ID              int32
	ParentID        int32
	Name            string
	StartTime       int64
	EndTime         int64
	StartSequenceNo int32
	EndSequenceNo   int32
}

// WebRequest carries the data of a traced web request. BytesSent,
// BytesReceived and ResponseCode are omitted from the wire when
// negative.
type WebRequest struct {
	URL             string
	StartTime       int64
	EndTime         int64
	StartSequenceNo int32
	EndSequenceNo   int32
	BytesSent       int32
	BytesReceived   int32
	ResponseCode    int32
}

// BeaconInit bundles the collaborators a new beacon consumes.
type BeaconInit struct {
	Logger                logging.Logger
	Cache                 *caching.Cache
	ClientIPAddress       string
	SessionIDProvider     providers.SessionIDProvider
	SessionSequenceNumber int32
	ThreadIDProvider      providers.ThreadIDProvider
	Timing                providers.TimingProvider
	Random                providers.RandomNumberGenerator

	// ChunkReserve overrides DefaultChunkReserve when positive.
	ChunkReserve int
}

// Beacon serialises telemetry events into the delimited key/value
// wire format and stores the fragments in the beacon cache under its
// key. One beacon corresponds to one session.
type Beacon struct {
	logger logging.Logger
	cache  *caching.Cache
	config *BeaconConfig

	key              caching.BeaconKey
	timing           providers.TimingProvider
	threadIDProvider providers.ThreadIDProvider
	sessionStartTime int64
	deviceID         int64
	clientIPAddress  string
	chunkReserve     int

	immutableBasicData string

	nextID             atomic.Int32
	nextSequenceNumber atomic.Int32
}

// NewBeacon creates a beacon for a new session. The immutable part of
// the protocol envelope is built once here.
func NewBeacon(init BeaconInit, config *BeaconConfig) *Beacon {
	b := &Beacon{
		logger: init.Logger,
		cache:  init.Cache,
		config: config,
		key: caching.BeaconKey{
			SessionNumber:   init.SessionIDProvider.NextSessionID(),
			SessionSequence: init.SessionSequenceNumber,
		},
		timing:           init.Timing,
		threadIDProvider: init.ThreadIDProvider,
		chunkReserve:     DefaultChunkReserve,
	}
	if init.ChunkReserve > 0 {
		b.chunkReserve = init.ChunkReserve
	}
	b.sessionStartTime = b.timing.TimestampMilliseconds()
	b.deviceID = createDeviceID(init.Random, config)
	b.clientIPAddress = validateClientIP(init.Logger, init.ClientIPAddress)
	b.immutableBasicData = b.createImmutableBasicData()
	return b
}

// createDeviceID returns the configured device id when privacy allows
// sending it, otherwise a fresh random value in [0, 2^63).
func createDeviceID(random providers.RandomNumberGenerator, config *BeaconConfig) int64 {
	if config.Privacy.DeviceIDSendingAllowed() {
		return config.App.DeviceID
	}
	return random.NextPositiveInt64()
}

// validateClientIP returns ip if it is a syntactically valid IPv4 or
// IPv6 literal, the empty string otherwise. Empty means the collector
// determines the address itself.
func validateClientIP(logger logging.Logger, ip string) string {
	if ip == "" {
		return ""
	}
	if net.ParseIP(ip) == nil {
		logger.Warning("Beacon: client IP address validation failed: %s", ip)
		return ""
	}
	return ip
}

// CreateID returns the next action identifier, unique per beacon.
func (b *Beacon) CreateID() int32 {
	return b.nextID.Add(1)
}

// CreateSequenceNumber returns the next event sequence number, unique
// per beacon.
func (b *Beacon) CreateSequenceNumber() int32 {
	return b.nextSequenceNumber.Add(1)
}

// CurrentTimestamp returns the timing provider's current time.
func (b *Beacon) CurrentTimestamp() int64 {
	return b.timing.TimestampMilliseconds()
}

// SessionStartTime returns the wall-clock time this beacon was
// created.
func (b *Beacon) SessionStartTime() int64 {
	return b.sessionStartTime
}

// DeviceID returns the visitor id sent with this beacon.
func (b *Beacon) DeviceID() int64 {
	return b.deviceID
}

// SessionNumber returns the session number reported on the wire: the
// assigned number when privacy allows reporting it, 1 otherwise.
func (b *Beacon) SessionNumber() int32 {
	if b.config.Privacy.SessionNumberReportingAllowed() {
		return b.key.SessionNumber
	}
	return 1
}

// SessionSequenceNumber returns the sequence number this beacon was
// created with.
func (b *Beacon) SessionSequenceNumber() int32 {
	return b.key.SessionSequence
}

// Key returns the cache key identifying this beacon.
func (b *Beacon) Key() caching.BeaconKey {
	return b.key
}

func (b *Beacon) visitStoreVersion() int {
	return b.config.ServerConfig().VisitStoreVersion
}

// CreateTag builds the tag attached to traced web requests as an HTTP
// header. Returns the empty string when web request tracing is not
// allowed.
func (b *Beacon) CreateTag(parentActionID, tracerSeqNo int32) string {
	if !b.config.Privacy.WebRequestTracingAllowed() {
		return ""
	}
	var tag strings.Builder
	tag.WriteString(tagPrefix)
	tag.WriteByte('_')
	tag.WriteString(strconv.Itoa(ProtocolVersion))
	tag.WriteByte('_')
	tag.WriteString(strconv.Itoa(b.config.ServerConfig().ServerID))
	tag.WriteByte('_')
	tag.WriteString(strconv.FormatInt(b.deviceID, 10))
	tag.WriteByte('_')
	tag.WriteString(strconv.FormatInt(int64(b.SessionNumber()), 10))
	if b.visitStoreVersion() > 1 {
		tag.WriteByte('-')
		tag.WriteString(strconv.FormatInt(int64(b.key.SessionSequence), 10))
	}
	tag.WriteByte('_')
	tag.WriteString(b.config.App.PercentEncodedApplicationID())
	tag.WriteByte('_')
	tag.WriteString(strconv.FormatInt(int64(parentActionID), 10))
	tag.WriteByte('_')
	tag.WriteString(strconv.FormatInt(int64(b.threadIDProvider.ThreadID()), 10))
	tag.WriteByte('_')
	tag.WriteString(strconv.FormatInt(int64(tracerSeqNo), 10))
	return tag.String()
}

// StartSession records the session start event.
func (b *Beacon) StartSession() {
	if !b.DataCapturingEnabled() {
		return
	}
	var event strings.Builder
	b.buildBasicEventDataWithoutName(&event, EventTypeSessionStart)
	addKeyValueInt(&event, keyParentActionID, 0)
	addKeyValueInt32(&event, keyStartSequenceNumber, b.CreateSequenceNumber())
	addKeyValueInt(&event, keyTime0, 0)
	b.addEventData(b.sessionStartTime, &event)
}

// EndSession records the session end event.
func (b *Beacon) EndSession() {
	if !b.config.Privacy.SessionReportingAllowed() {
		return
	}
	if !b.DataCapturingEnabled() {
		return
	}
	var event strings.Builder
	b.buildBasicEventDataWithoutName(&event, EventTypeSessionEnd)
	endTime := b.CurrentTimestamp()
	addKeyValueInt(&event, keyParentActionID, 0)
	addKeyValueInt32(&event, keyStartSequenceNumber, b.CreateSequenceNumber())
	addKeyValueInt64(&event, keyTime0, b.timeSinceSessionStart(endTime))
	b.addEventData(endTime, &event)
}

// AddAction records a completed action.
func (b *Beacon) AddAction(action Action) {
	if !b.config.Privacy.ActionReportingAllowed() {
		return
	}
	if !b.DataCapturingEnabled() {
		return
	}
	var data strings.Builder
	b.buildBasicEventData(&data, EventTypeAction, action.Name)
	addKeyValueInt32(&data, keyActionID, action.ID)
	addKeyValueInt32(&data, keyParentActionID, action.ParentID)
	addKeyValueInt32(&data, keyStartSequenceNumber, action.StartSequenceNo)
	addKeyValueInt64(&data, keyTime0, b.timeSinceSessionStart(action.StartTime))
	addKeyValueInt32(&data, keyEndSequenceNumber, action.EndSequenceNo)
	addKeyValueInt64(&data, keyTime1, action.EndTime-action.StartTime)
	b.addActionData(action.StartTime, &data)
}

// ReportValueInt records a named integer value on an action.
func (b *Beacon) ReportValueInt(parentActionID int32, valueName string, value int32) {
	if !b.valueReportingAllowed() {
		return
	}
	var event strings.Builder
	timestamp := b.buildEvent(&event, EventTypeValueInt, valueName, parentActionID)
	addKeyValueInt32(&event, keyValue, value)
	b.addEventData(timestamp, &event)
}

// ReportValueDouble records a named floating-point value on an
// action.
func (b *Beacon) ReportValueDouble(parentActionID int32, valueName string, value float64) {
	if !b.valueReportingAllowed() {
		return
	}
	var event strings.Builder
	timestamp := b.buildEvent(&event, EventTypeValueDouble, valueName, parentActionID)
	addKeyValueDouble(&event, keyValue, value)
	b.addEventData(timestamp, &event)
}

// ReportValueString records a named string value on an action. A nil
// value serialises the event without the vl field.
func (b *Beacon) ReportValueString(parentActionID int32, valueName string, value *string) {
	if !b.valueReportingAllowed() {
		return
	}
	var event strings.Builder
	timestamp := b.buildEvent(&event, EventTypeValueString, valueName, parentActionID)
	if value != nil {
		addKeyValueString(&event, keyValue, truncate(*value))
	}
	b.addEventData(timestamp, &event)
}

// ReportEvent records a named event on an action.
func (b *Beacon) ReportEvent(parentActionID int32, eventName string) {
	if !b.config.Privacy.EventReportingAllowed() {
		return
	}
	if !b.DataCapturingEnabled() {
		return
	}
	var event strings.Builder
	timestamp := b.buildEvent(&event, EventTypeNamedEvent, eventName, parentActionID)
	b.addEventData(timestamp, &event)
}

// ReportError records an error on an action. An empty reason is
// omitted from the wire.
func (b *Beacon) ReportError(parentActionID int32, errorName string, errorCode int32, reason string) {
	if !b.config.Privacy.ErrorReportingAllowed() {
		return
	}
	if !b.config.ServerConfig().SendingErrorsAllowed() {
		return
	}
	var event strings.Builder
	b.buildBasicEventData(&event, EventTypeError, errorName)
	timestamp := b.CurrentTimestamp()
	addKeyValueInt32(&event, keyParentActionID, parentActionID)
	addKeyValueInt32(&event, keyStartSequenceNumber, b.CreateSequenceNumber())
	addKeyValueInt64(&event, keyTime0, b.timeSinceSessionStart(timestamp))
	addKeyValueInt32(&event, keyErrorCode, errorCode)
	if reason != "" {
		addKeyValueString(&event, keyErrorReason, reason)
	}
	addKeyValueString(&event, keyErrorTechnologyType, ErrorTechnologyType)
	b.addEventData(timestamp, &event)
}

// ReportCrash records a crash. Empty reason or stacktrace fields are
// omitted from the wire.
func (b *Beacon) ReportCrash(errorName, reason, stacktrace string) {
	if !b.config.Privacy.CrashReportingAllowed() {
		return
	}
	if !b.config.ServerConfig().SendingCrashesAllowed() {
		return
	}
	var event strings.Builder
	b.buildBasicEventData(&event, EventTypeCrash, errorName)
	timestamp := b.CurrentTimestamp()
	addKeyValueInt(&event, keyParentActionID, 0)
	addKeyValueInt32(&event, keyStartSequenceNumber, b.CreateSequenceNumber())
	addKeyValueInt64(&event, keyTime0, b.timeSinceSessionStart(timestamp))
	if reason != "" {
		addKeyValueString(&event, keyErrorReason, reason)
	}
	if stacktrace != "" {
		addKeyValueString(&event, keyErrorStacktrace, stacktrace)
	}
	addKeyValueString(&event, keyErrorTechnologyType, ErrorTechnologyType)
	b.addEventData(timestamp, &event)
}

// AddWebRequest records a traced web request on an action.
func (b *Beacon) AddWebRequest(parentActionID int32, request WebRequest) {
	if !b.config.Privacy.WebRequestTracingAllowed() {
		return
	}
	if !b.DataCapturingEnabled() {
		return
	}
	var event strings.Builder
	b.buildBasicEventData(&event, EventTypeWebRequest, request.URL)
	addKeyValueInt32(&event, keyParentActionID, parentActionID)
	addKeyValueInt32(&event, keyStartSequenceNumber, request.StartSequenceNo)
	addKeyValueInt64(&event, keyTime0, b.timeSinceSessionStart(request.StartTime))
	addKeyValueInt32(&event, keyEndSequenceNumber, request.EndSequenceNo)
	addKeyValueInt64(&event, keyTime1, request.EndTime-request.StartTime)
	addKeyValueIfNotNegative(&event, keyWebRequestBytesSent, request.BytesSent)
	addKeyValueIfNotNegative(&event, keyWebRequestBytesReceived, request.BytesReceived)
	addKeyValueIfNotNegative(&event, keyWebRequestResponseCode, request.ResponseCode)
	b.addEventData(request.StartTime, &event)
}

// IdentifyUser records a user identification event.
func (b *Beacon) IdentifyUser(userTag string) {
	if !b.config.Privacy.UserIdentificationAllowed() {
		return
	}
	if !b.DataCapturingEnabled() {
		return
	}
	var event strings.Builder
	b.buildBasicEventData(&event, EventTypeIdentifyUser, userTag)
	timestamp := b.CurrentTimestamp()
	addKeyValueInt(&event, keyParentActionID, 0)
	addKeyValueInt32(&event, keyStartSequenceNumber, b.CreateSequenceNumber())
	addKeyValueInt64(&event, keyTime0, b.timeSinceSessionStart(timestamp))
	b.addEventData(timestamp, &event)
}

// Send drains this beacon's cached data in size-limited chunks and
// transmits each via an HTTP client from provider. On a transport
// failure the in-flight chunk is rolled back into the cache and the
// loop stops. Returns the last status response, which may be nil.
func (b *Beacon) Send(provider HTTPClientProvider, params AdditionalParams) *StatusResponse {
	client := provider.CreateClient(b.config.HTTPConfig())
	var response *StatusResponse

	for {
		// the prefix changes between chunks (tx refresh), build it anew
		prefix := b.appendMutableBeaconData(b.immutableBasicData)
		maxSize := b.config.ServerConfig().BeaconSizeBytes - b.chunkReserve
		chunk, ok := b.cache.GetNextBeaconChunk(b.key, prefix, maxSize, beaconDataDelimiter)
		if !ok || chunk == "" {
			return response
		}

		response = client.SendBeaconRequest(b.clientIPAddress, []byte(chunk), params)
		if response.Erroneous() {
			// restore the chunk; the next send cycle retries it
			b.cache.ResetChunkedData(b.key)
			break
		}
		b.cache.RemoveChunkedData(b.key)
	}

	return response
}

// ClearData removes everything this beacon has cached so far.
func (b *Beacon) ClearData() {
	b.cache.DeleteCacheEntry(b.key)
}

// IsEmpty reports whether this beacon has no cached data.
func (b *Beacon) IsEmpty() bool {
	return b.cache.IsEmpty(b.key)
}

// Config returns the beacon's configuration composite.
func (b *Beacon) Config() *BeaconConfig {
	return b.config
}

// ServerConfigSet reports whether a server configuration has been
// installed on this beacon.
func (b *Beacon) ServerConfigSet() bool {
	return b.config.ServerConfigSet()
}

// InitializeServerConfig installs sc if no configuration is set yet.
func (b *Beacon) InitializeServerConfig(sc *ServerConfig) {
	b.config.InitializeServerConfig(sc)
}

// UpdateServerConfig installs sc and notifies the update callback.
func (b *Beacon) UpdateServerConfig(sc *ServerConfig) {
	b.config.UpdateServerConfig(sc)
}

// EnableCapture turns data capturing on for this beacon.
func (b *Beacon) EnableCapture() {
	b.config.EnableCapture()
}

// DisableCapture turns data capturing off for this beacon.
func (b *Beacon) DisableCapture() {
	b.config.DisableCapture()
}

// DataCapturingEnabled reports whether the server configuration
// currently allows sending data.
func (b *Beacon) DataCapturingEnabled() bool {
	return b.config.ServerConfig().SendingDataAllowed()
}

func (b *Beacon) valueReportingAllowed() bool {
	return b.config.Privacy.ValueReportingAllowed() && b.DataCapturingEnabled()
}

func (b *Beacon) addEventData(timestamp int64, event *strings.Builder) {
	if b.DataCapturingEnabled() {
		b.cache.AddEventData(b.key, timestamp, event.String())
	}
}

func (b *Beacon) addActionData(timestamp int64, data *strings.Builder) {
	if b.DataCapturingEnabled() {
		b.cache.AddActionData(b.key, timestamp, data.String())
	}
}

// buildEvent serialises the common part of single-moment events and
// returns the event's timestamp.
func (b *Beacon) buildEvent(builder *strings.Builder, eventType EventType, name string, parentActionID int32) int64 {
	b.buildBasicEventData(builder, eventType, name)
	timestamp := b.CurrentTimestamp()
	addKeyValueInt32(builder, keyParentActionID, parentActionID)
	addKeyValueInt32(builder, keyStartSequenceNumber, b.CreateSequenceNumber())
	addKeyValueInt64(builder, keyTime0, b.timeSinceSessionStart(timestamp))
	return timestamp
}

func (b *Beacon) buildBasicEventData(builder *strings.Builder, eventType EventType, name string) {
	addKeyValueInt(builder, keyEventType, int(eventType))
	addKeyValueString(builder, keyName, truncate(name))
	addKeyValueInt32(builder, keyThreadID, b.threadIDProvider.ThreadID())
}

func (b *Beacon) buildBasicEventDataWithoutName(builder *strings.Builder, eventType EventType) {
	addKeyValueInt(builder, keyEventType, int(eventType))
	addKeyValueInt32(builder, keyThreadID, b.threadIDProvider.ThreadID())
}

func (b *Beacon) createImmutableBasicData() string {
	var basic strings.Builder

	// version and application information
	addKeyValueInt(&basic, keyProtocolVersion, ProtocolVersion)
	addKeyValueString(&basic, keyAgentVersion, AgentVersion)
	addKeyValueString(&basic, keyApplicationID, b.config.App.ApplicationID)
	if b.config.App.ApplicationName != "" {
		addKeyValueString(&basic, keyApplicationName, b.config.App.ApplicationName)
	}
	if b.config.App.ApplicationVersion != "" {
		addKeyValueString(&basic, keyApplicationVersion, b.config.App.ApplicationVersion)
	}
	addKeyValueInt(&basic, keyPlatformType, PlatformType)
	addKeyValueString(&basic, keyAgentTechnologyType, AgentTechnologyType)

	// visitor id, session number and client IP
	addKeyValueInt64(&basic, keyVisitorID, b.deviceID)
	addKeyValueInt32(&basic, keySessionNumber, b.SessionNumber())
	addKeyValueString(&basic, keyClientIPAddress, b.clientIPAddress)

	// device information
	if b.config.App.OperatingSystem != "" {
		addKeyValueString(&basic, keyDeviceOS, b.config.App.OperatingSystem)
	}
	if b.config.App.Manufacturer != "" {
		addKeyValueString(&basic, keyDeviceManufacturer, b.config.App.Manufacturer)
	}
	if b.config.App.ModelID != "" {
		addKeyValueString(&basic, keyDeviceModel, b.config.App.ModelID)
	}

	addKeyValueInt(&basic, keyDataCollectionLevel, int(b.config.Privacy.DataCollectionLevel))
	addKeyValueInt(&basic, keyCrashReportingLevel, int(b.config.Privacy.CrashReportingLevel))

	return basic.String()
}

// appendMutableBeaconData builds the per-send prefix: the immutable
// data plus visit store version, optional session sequence, fresh
// timestamps and multiplicity.
func (b *Beacon) appendMutableBeaconData(immutableBasicData string) string {
	var prefix strings.Builder
	prefix.WriteString(immutableBasicData)

	serverConfig := b.config.ServerConfig()
	addKeyValueInt(&prefix, keyVisitStoreVersion, serverConfig.VisitStoreVersion)
	if serverConfig.VisitStoreVersion > 1 {
		addKeyValueInt32(&prefix, keySessionSequence, b.key.SessionSequence)
	}

	addKeyValueInt64(&prefix, keyTransmissionTime, b.CurrentTimestamp())
	addKeyValueInt64(&prefix, keySessionStartTime, b.sessionStartTime)
	addKeyValueInt(&prefix, keyMultiplicity, serverConfig.Multiplicity)

	return prefix.String()
}

func (b *Beacon) timeSinceSessionStart(timestamp int64) int64 {
	return timestamp - b.sessionStartTime
}

// truncate trims surrounding whitespace and caps the result at the
// maximum name length, counted in characters. Truncation happens
// before encoding.
func truncate(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		runes := []rune(name)
		name = string(runes[:maxNameLength])
	}
	return name
}

func appendKey(builder *strings.Builder, key string) {
	if builder.Len() > 0 {
		builder.WriteByte(beaconDataDelimiter)
	}
	builder.WriteString(key)
	builder.WriteByte('=')
}

func addKeyValueString(builder *strings.Builder, key, value string) {
	appendKey(builder, key)
	builder.WriteString(PercentEncode(value, tagReservedCharacters...))
}

func addKeyValueInt(builder *strings.Builder, key string, value int) {
	appendKey(builder, key)
	builder.WriteString(strconv.Itoa(value))
}

func addKeyValueInt32(builder *strings.Builder, key string, value int32) {
	appendKey(builder, key)
	builder.WriteString(strconv.FormatInt(int64(value), 10))
}

func addKeyValueInt64(builder *strings.Builder, key string, value int64) {
	appendKey(builder, key)
	builder.WriteString(strconv.FormatInt(value, 10))
}

func addKeyValueDouble(builder *strings.Builder, key string, value float64) {
	appendKey(builder, key)
	builder.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
}

func addKeyValueIfNotNegative(builder *strings.Builder, key string, value int32) {
	if value >= 0 {
		addKeyValueInt32(builder, key, value)
	}
}
