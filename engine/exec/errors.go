// Package exec holds the Execution/NodeExecution/ResumeToken data model
// and the error-kind vocabulary every node
// executor, the scheduler, and the HIL layer report through.
package exec

// ErrorKind is the closed vocabulary of error origins.
// It is not a Go error type itself; it labels a core.Error's Code field so
// the scheduler and callers can decide retryability and routing without
// string-matching messages.
type ErrorKind string

const (
	// Validation / registry time (non-retryable, surfaces at creation or start).
	KindValidationTopology  ErrorKind = "VALIDATION_TOPOLOGY"
	KindValidationConfig    ErrorKind = "VALIDATION_CONFIG"
	KindValidationAttached  ErrorKind = "VALIDATION_ATTACHED"
	KindValidationConvert   ErrorKind = "VALIDATION_CONVERSION"
	KindValidationCycle     ErrorKind = "VALIDATION_CYCLE"
	KindConfigMissing       ErrorKind = "CONFIG_MISSING"
	KindConfigType          ErrorKind = "CONFIG_TYPE"
	KindEnumNotAllowed      ErrorKind = "ENUM_NOT_ALLOWED"
	KindNumericOutOfRange   ErrorKind = "NUMERIC_OUT_OF_RANGE"
	KindUnknownSubtype      ErrorKind = "UNKNOWN_SUBTYPE"

	// Node-level transient errors (retryable via local retry policy).
	KindNetwork     ErrorKind = "NETWORK"
	KindTimeout     ErrorKind = "TIMEOUT"
	KindRateLimit   ErrorKind = "RATE_LIMIT"
	KindProvider5xx ErrorKind = "PROVIDER_5XX"

	// Node-level permanent errors.
	KindAuth           ErrorKind = "AUTH"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	KindHTTP4xx        ErrorKind = "HTTP_4XX"
	KindHTTP5xx        ErrorKind = "HTTP_5XX"
	KindResponseError  ErrorKind = "RESPONSE_ERROR"

	// AI provider errors.
	KindModelError       ErrorKind = "MODEL_ERROR"
	KindUnknown          ErrorKind = "UNKNOWN"
	KindRateLimitProvide ErrorKind = "RATE_LIMIT_PROVIDER"

	// Conversion runtime.
	KindConversionError ErrorKind = "CONVERSION_ERROR"

	// HIL / resume layer.
	KindHILTimeout   ErrorKind = "HIL_TIMEOUT"
	KindResumeStale  ErrorKind = "RESUME_STALE"
	KindResumeBusy   ErrorKind = "RESUME_BUSY"

	// Scheduler.
	KindSchedulerDeadlock ErrorKind = "SCHEDULER_DEADLOCK"
	KindTimeoutWorkflow   ErrorKind = "TIMEOUT_WORKFLOW"
	KindTimeoutNode       ErrorKind = "TIMEOUT_NODE"
	KindCanceled          ErrorKind = "CANCELED"
)

// retryableKinds lists the transient kinds local retry policies act on.
var retryableKinds = map[ErrorKind]bool{
	KindNetwork:          true,
	KindTimeout:          true,
	KindRateLimit:        true,
	KindProvider5xx:      true,
	KindModelError:       true,
	KindUnknown:          true,
	KindRateLimitProvide: true,
	KindResumeBusy:       true,
}

// IsRetryable reports whether the error kind is one the node-level retry
// policy is allowed to act on.
func (k ErrorKind) IsRetryable() bool {
	return retryableKinds[k]
}

func (k ErrorKind) String() string { return string(k) }
