package graph

import (
	"time"
)

// Status represents the lifecycle status of a conversation turn.
type Status string

// Lifecycle statuses.
const (
	StatusInitialized   Status = "initialized"
	StatusProcessing    Status = "processing"
	StatusAwaitingHuman Status = "awaiting_human"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// WorkflowMode selects the root behavior of the graph.
type WorkflowMode string

// Supported workflow modes.
const (
	WorkflowModeChat         WorkflowMode = "chat"
	WorkflowModeAlertMonitor WorkflowMode = "alert_monitor"
)

// Intent is the classification assigned to a user query.
type Intent string

// Intent taxonomy.
const (
	IntentGreeting        Intent = "GREETING"
	IntentSmallTalk       Intent = "SMALL_TALK"
	IntentSummaryRequest  Intent = "SUMMARY_REQUEST"
	IntentBranchQuery     Intent = "BRANCH_QUERY"
	IntentAnomalyQuery    Intent = "ANOMALY_QUERY"
	IntentFileOperation   Intent = "FILE_OPERATION"
	IntentDBOperation     Intent = "DB_OPERATION"
	IntentGoogleWorkspace Intent = "GOOGLE_WORKSPACE"
	IntentGoogleGmail     Intent = "GOOGLE_GMAIL"
	IntentGoogleDrive     Intent = "GOOGLE_DRIVE"
	IntentGoogleCalendar  Intent = "GOOGLE_CALENDAR"
	IntentQuery           Intent = "QUERY"
	IntentUnknown         Intent = "UNKNOWN"
)

// ErrorRecord is one accumulated fault inside the state.
type ErrorRecord struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Node    string         `json:"node,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	At      time.Time      `json:"at"`
}

// Turn is one user/assistant exchange kept in the conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TraceID string    `json:"trace_id,omitempty"`
	At      time.Time `json:"at"`
}

// ReactStep records one reason-act iteration of the ReAct node.
type ReactStep struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// State is the conversation-scoped record threaded through the graph.
//
// Updates are value-semantic: nodes receive a clone and return a new state;
// no node observes a partial write. The executor merges node outputs into
// the authoritative snapshot between steps.
type State struct {
	SessionID     string       `json:"session_id"`
	TraceID       string       `json:"trace_id"`
	UserID        string       `json:"user_id"`
	OriginalQuery string       `json:"original_query"`
	WorkflowMode  WorkflowMode `json:"workflow_mode"`

	// ExternalPayload holds structured inputs when the query is JSON.
	ExternalPayload map[string]any `json:"external_payload,omitempty"`

	Status         Status   `json:"status"`
	CurrentNode    string   `json:"current_node"`
	CompletedNodes []string `json:"completed_nodes"`

	DetectedIntent   Intent  `json:"detected_intent"`
	IntentConfidence float64 `json:"intent_confidence"`

	// RoutingDecision holds the next node(s); more than one entry means
	// parallel fan-out.
	RoutingDecision []string `json:"routing_decision,omitempty"`
	ActiveAgent     string   `json:"active_agent,omitempty"`

	ResponseMessage  string         `json:"response_message"`
	ResponseData     map[string]any `json:"response_data,omitempty"`
	ResponseMetadata map[string]any `json:"response_metadata,omitempty"`

	// SharedArtifacts maps agent name to the handoff data that agent
	// produced. Only agent X writes SharedArtifacts[X].
	SharedArtifacts map[string]map[string]any `json:"shared_artifacts,omitempty"`

	ConversationHistory []Turn   `json:"conversation_history,omitempty"`
	MemoryWindow        []string `json:"memory_window,omitempty"`

	ReasoningSummary  string             `json:"reasoning_summary,omitempty"`
	ReactTrace        []ReactStep        `json:"react_trace,omitempty"`
	ProcessingMetrics map[string]float64 `json:"processing_metrics,omitempty"`

	Errors []ErrorRecord  `json:"errors,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// NewState creates an initialized state for one turn.
func NewState(sessionID, traceID, userID, query string) *State {
	return &State{
		SessionID:         sessionID,
		TraceID:           traceID,
		UserID:            userID,
		OriginalQuery:     query,
		WorkflowMode:      WorkflowModeChat,
		Status:            StatusInitialized,
		DetectedIntent:    IntentUnknown,
		CompletedNodes:    []string{},
		ResponseData:      map[string]any{},
		ResponseMetadata:  map[string]any{},
		SharedArtifacts:   map[string]map[string]any{},
		ProcessingMetrics: map[string]float64{},
		Config:            map[string]any{},
	}
}

// Clone creates a deep copy of the state. Nested maps are copied one
// level deep recursively so callers never alias mutable sub-maps across
// snapshots.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.ExternalPayload = cloneMap(s.ExternalPayload)
	clone.CompletedNodes = append([]string(nil), s.CompletedNodes...)
	clone.RoutingDecision = append([]string(nil), s.RoutingDecision...)
	clone.ResponseData = cloneMap(s.ResponseData)
	clone.ResponseMetadata = cloneMap(s.ResponseMetadata)
	clone.Config = cloneMap(s.Config)
	clone.MemoryWindow = append([]string(nil), s.MemoryWindow...)
	clone.ConversationHistory = append([]Turn(nil), s.ConversationHistory...)
	clone.ReactTrace = append([]ReactStep(nil), s.ReactTrace...)
	clone.Errors = append([]ErrorRecord(nil), s.Errors...)
	if s.SharedArtifacts != nil {
		clone.SharedArtifacts = make(map[string]map[string]any, len(s.SharedArtifacts))
		for agent, artifact := range s.SharedArtifacts {
			clone.SharedArtifacts[agent] = cloneMap(artifact)
		}
	}
	if s.ProcessingMetrics != nil {
		clone.ProcessingMetrics = make(map[string]float64, len(s.ProcessingMetrics))
		for k, v := range s.ProcessingMetrics {
			clone.ProcessingMetrics[k] = v
		}
	}
	return &clone
}

// HasCompleted reports whether the node already appears in CompletedNodes.
func (s *State) HasCompleted(node string) bool {
	for _, n := range s.CompletedNodes {
		if n == node {
			return true
		}
	}
	return false
}

// MetaString returns a string value from ResponseMetadata.
func (s *State) MetaString(key string) string {
	if s.ResponseMetadata == nil {
		return ""
	}
	v, _ := s.ResponseMetadata[key].(string)
	return v
}

// MetaBool returns a bool value from ResponseMetadata.
func (s *State) MetaBool(key string) bool {
	if s.ResponseMetadata == nil {
		return false
	}
	v, _ := s.ResponseMetadata[key].(bool)
	return v
}

// MetaStrings returns a string slice from ResponseMetadata, accepting
// both []string and []any encodings (the latter appears after a
// checkpoint round-trip).
func (s *State) MetaStrings(key string) []string {
	if s.ResponseMetadata == nil {
		return nil
	}
	switch v := s.ResponseMetadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			dst[k] = cloneMap(nested)
			continue
		}
		dst[k] = v
	}
	return dst
}
