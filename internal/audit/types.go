package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Detection events
	EventDetectionCompleted EventType = "detection.completed"
	EventDetectionFailed    EventType = "detection.failed"

	// Alert events
	EventAlertCreated            EventType = "alert.created"
	EventAlertDuplicateSkipped   EventType = "alert.duplicate_skipped"
	EventAlertVetoed             EventType = "alert.vetoed"
	EventAlertAcknowledged       EventType = "alert.acknowledged"
	EventAlertResolved           EventType = "alert.resolved"
	EventAlertTransitionRejected EventType = "alert.transition_rejected"

	// Collaborator events
	EventEnrichmentDegraded EventType = "enrichment.degraded"
	EventArchiveCompleted   EventType = "archive.completed"

	// Configuration events
	EventConfigReloaded EventType = "config.reloaded"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
	ResultSkipped Result = "skipped"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor information
	User     string `json:"user,omitempty"`
	SourceIP string `json:"source_ip,omitempty"`

	// Alert information
	AlertID     string `json:"alert_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Metric      string `json:"metric,omitempty"`

	Action      string                 `json:"action,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithUser sets the user who triggered the event
func (e *Event) WithUser(user string) *Event {
	e.User = user
	return e
}

// WithAlert sets the alert the event concerns
func (e *Event) WithAlert(id, fingerprint string) *Event {
	e.AlertID = id
	e.Fingerprint = fingerprint
	return e
}

// WithMetric sets the observed metric
func (e *Event) WithMetric(metric string) *Event {
	e.Metric = metric
	return e
}

// WithAction sets the action being performed
func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
