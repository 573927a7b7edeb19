package protocol

// Protocol envelope constants.
const (
	ProtocolVersion = 3
	AgentVersion    = "1.4.0"
	PlatformType    = 1

	// AgentTechnologyType identifies the agent flavour to the
	// collector. The error/crash records carry the same literal under
	// their own tt key; the peer does not distinguish the two.
	AgentTechnologyType = "okgo"
	ErrorTechnologyType = AgentTechnologyType
)

// Basic beacon keys.
const (
	keyProtocolVersion     = "vv"
	keyAgentVersion        = "va"
	keyApplicationID       = "ap"
	keyApplicationName     = "an"
	keyApplicationVersion  = "vn"
	keyPlatformType        = "pt"
	keyAgentTechnologyType = "tt"
	keyVisitorID           = "vi"
	keySessionNumber       = "sn"
	keySessionSequence     = "ss"
	keyClientIPAddress     = "ip"
	keyMultiplicity        = "mp"
	keyDataCollectionLevel = "dl"
	keyCrashReportingLevel = "cl"
	keyVisitStoreVersion   = "vs"
)

// Device keys.
const (
	keyDeviceOS           = "os"
	keyDeviceManufacturer = "mf"
	keyDeviceModel        = "md"
)

// Timestamp keys.
const (
	keySessionStartTime = "tv"
	keyTransmissionTime = "tx"
)

// Event keys.
const (
	keyEventType           = "et"
	keyName                = "na"
	keyThreadID            = "it"
	keyActionID            = "ca"
	keyParentActionID      = "pa"
	keyStartSequenceNumber = "s0"
	keyTime0               = "t0"
	keyEndSequenceNumber   = "s1"
	keyTime1               = "t1"
)

// Value, error and crash keys.
const (
	keyValue               = "vl"
	keyErrorCode           = "ev"
	keyErrorReason         = "rs"
	keyErrorStacktrace     = "st"
	keyErrorTechnologyType = "tt"
)

// Web request keys.
const (
	keyWebRequestResponseCode  = "rc"
	keyWebRequestBytesSent     = "bs"
	keyWebRequestBytesReceived = "br"
)

// EventType is the wire-level code identifying the kind of a
// serialised event record.
type EventType int

const (
	EventTypeAction       EventType = 1
	EventTypeNamedEvent   EventType = 10
	EventTypeValueString  EventType = 11
	EventTypeValueInt     EventType = 12
	EventTypeValueDouble  EventType = 13
	EventTypeSessionStart EventType = 18
	EventTypeSessionEnd   EventType = 19
	EventTypeWebRequest   EventType = 30
	EventTypeError        EventType = 40
	EventTypeCrash        EventType = 50
	EventTypeIdentifyUser EventType = 60
)
