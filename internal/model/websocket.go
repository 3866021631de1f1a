package model

// Client-originated WebSocket message types
const (
	WSMessageTypeJoinProject    = "join_project"
	WSMessageTypeTimelineUpdate = "timeline_update"
	WSMessageTypePing           = "ping"
)

// Server-originated WebSocket message types
const (
	WSMessageTypeWelcome      = "welcome"
	WSMessageTypeJoined       = "joined"
	WSMessageTypePong         = "pong"
	WSMessageTypeError        = "error"
	WSMessageTypeExportUpdate = "export_update"
)

// WSEnvelope carries the fields common to every inbound message.
type WSEnvelope struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId,omitempty"`
}

// WSWelcomeMessage is sent immediately on connect.
type WSWelcomeMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// WSJoinedMessage acknowledges a join_project.
type WSJoinedMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	ClientID  string `json:"clientId"`
}

// WSPongMessage answers a ping.
type WSPongMessage struct {
	Type string `json:"type"`
}

// WSErrorMessage is sent to the offending connection only.
type WSErrorMessage struct {
	Type  string  `json:"type"`
	Error WSError `json:"error"`
}

// WSError carries error details.
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSExportUpdate fans out a job state change to everyone viewing the project.
type WSExportUpdate struct {
	Type        string    `json:"type"`
	ProjectID   string    `json:"projectId"`
	JobID       string    `json:"jobId"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"currentStep,omitempty"`
	Error       *JobError `json:"error,omitempty"`
	Output      *Output   `json:"output,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}
