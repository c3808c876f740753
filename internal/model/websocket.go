package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a generation progress update
type WSProgressMessage struct {
	Type        string    `json:"type"`
	JobID       string    `json:"jobId"`
	Progress    int       `json:"progress"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"currentStep,omitempty"`
}

// WSCompleteMessage represents generation completion
type WSCompleteMessage struct {
	Type   string                  `json:"type"`
	JobID  string                  `json:"jobId"`
	Result *GenerateResultResponse `json:"result"`
}

// WSErrorMessage represents a failed generation
type WSErrorMessage struct {
	Type     string  `json:"type"`
	JobID    string  `json:"jobId"`
	Error    WSError `json:"error"`
	Refunded bool    `json:"refunded"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
