package types

import "time"

// EventKind identifies the tagged variant carried by an Event. Kinds that
// carry data have a payload type below, and Event.Payload holds that
// struct as a value; the other kinds carry no payload type.
type EventKind string

const (
	EventWorkflowStarted  EventKind = "workflow:started"
	EventWorkflowStatus   EventKind = "workflow:status"
	EventWorkflowStopped  EventKind = "workflow:stopped"
	EventWorkflowError    EventKind = "workflow:error"
	EventAgentAdded       EventKind = "agent:added"
	EventAgentStatus      EventKind = "agent:status"
	EventAgentEngine      EventKind = "agent:engine"
	EventAgentModel       EventKind = "agent:model"
	EventAgentTelemetry   EventKind = "agent:telemetry"
	EventAgentReset       EventKind = "agent:reset"
	EventSubagentAdded    EventKind = "subagent:added"
	EventSubagentBatch    EventKind = "subagent:batch"
	EventSubagentStatus   EventKind = "subagent:status"
	EventSubagentClear    EventKind = "subagent:clear"
	EventTriggeredAdded   EventKind = "triggered:added"
	EventLoopState        EventKind = "loop:state"
	EventLoopClear        EventKind = "loop:clear"
	EventCheckpointState  EventKind = "checkpoint:state"
	EventCheckpointClear  EventKind = "checkpoint:clear"
	EventInputState       EventKind = "input:state"
	EventMessageLog       EventKind = "message:log"
	EventUIElement        EventKind = "ui:element"
	EventSeparatorAdd     EventKind = "separator:add"
	EventMonitoringRegister EventKind = "monitoring:register"

	// EventHistoryTruncated is the synthetic marker emitted once when
	// the bus drops its oldest history entries.
	EventHistoryTruncated EventKind = "history_truncated"
)

// Event is a single tagged-variant message published on the Event Bus.
// Every event carries the ids needed to route it without additional
// lookups.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Seq       string    `json:"seq"`

	WorkflowID  string `json:"workflowId,omitempty"`
	AgentID     string `json:"agentId,omitempty"`
	ModuleIndex int    `json:"moduleIndex,omitempty"`

	Payload any `json:"payload,omitempty"`
}

// WorkflowStartedPayload is carried by EventWorkflowStarted.
type WorkflowStartedPayload struct {
	Steps int `json:"steps"`
}

// WorkflowStatusPayload is carried by EventWorkflowStatus.
type WorkflowStatusPayload struct {
	Status string `json:"status"`
}

// WorkflowErrorPayload is carried by EventWorkflowError.
type WorkflowErrorPayload struct {
	Reason string `json:"reason"`
}

// AgentStatusPayload is carried by EventAgentStatus.
type AgentStatusPayload struct {
	Status AgentStatus `json:"status"`
}

// AgentTelemetryPayload is carried by EventAgentTelemetry.
type AgentTelemetryPayload struct {
	Telemetry ParsedTelemetry `json:"telemetry"`
}

// LoopStatePayload is carried by EventLoopState.
type LoopStatePayload struct {
	SourceModuleIndex int      `json:"sourceModuleIndex"`
	CycleNumber       int      `json:"cycleNumber"`
	SkipList          []string `json:"skipList,omitempty"`
}

// CheckpointStatePayload is carried by EventCheckpointState.
type CheckpointStatePayload struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// InputStatePayload is carried by EventInputState.
type InputStatePayload struct {
	Source string `json:"source"` // "user" | "controller" | "system"
}

// MessageLogPayload is carried by EventMessageLog.
type MessageLogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// TriggeredAddedPayload is carried by EventTriggeredAdded.
type TriggeredAddedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// MonitoringRegisterPayload is carried by EventMonitoringRegister.
type MonitoringRegisterPayload struct {
	MonitoringID string `json:"monitoringId"`
	SessionID    string `json:"sessionId,omitempty"`
}

// HistoryTruncatedPayload is carried by the synthetic history-overflow
// marker event.
type HistoryTruncatedPayload struct {
	Dropped int `json:"dropped"`
}
