package protocol

import "time"

// AuthPayload is the first frame a client sends after the socket opens.
// UserType is the role, lowercased.
type AuthPayload struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// DriverInfo is the subset of driver identity shared with a patient once a
// request is accepted.
type DriverInfo struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Vehicle string `json:"vehicle,omitempty"`
}

// NewRequestPayload announces a fresh emergency request to drivers.
type NewRequestPayload struct {
	RequestID string `json:"requestId"`
	PatientID string `json:"patientId"`
	Location  string `json:"location,omitempty"`
	Note      string `json:"note,omitempty"`
}

// AcceptRequestPayload is a driver claiming a request.
type AcceptRequestPayload struct {
	RequestID string      `json:"requestId"`
	Driver    *DriverInfo `json:"driver,omitempty"`
}

// StatusUpdatePayload carries a lifecycle transition for a request. It is the
// payload of both request_status_update and driver_status_update frames.
type StatusUpdatePayload struct {
	RequestID string      `json:"requestId"`
	Status    string      `json:"status"`
	Driver    *DriverInfo `json:"driver,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// CancelRequestPayload is a patient abandoning their active request.
type CancelRequestPayload struct {
	RequestID string `json:"requestId"`
	PatientID string `json:"patientId"`
}

// ChatNewPayload asks for a support chat; inserted into the pending queue.
type ChatNewPayload struct {
	PatientID string    `json:"patientId"`
	Name      string    `json:"name,omitempty"`
	At        time.Time `json:"at"`
}

// AgentInfo identifies the support agent bound to a chat.
type AgentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ChatAssignPayload is an agent's claim on a queued chat.
type ChatAssignPayload struct {
	PatientID string     `json:"patientId"`
	Agent     *AgentInfo `json:"agent,omitempty"`
}

// ChatAssignedPayload is the authoritative claim broadcast. The first one
// received per patientId wins; later ones are no-ops.
type ChatAssignedPayload struct {
	PatientID string    `json:"patientId"`
	Agent     AgentInfo `json:"agent"`
}

// ChatMessagePayload is one chat message. Exactly one of Body or Image is
// set; Image is an inline data URI, size limits are the UI's problem.
type ChatMessagePayload struct {
	MessageID string    `json:"messageId,omitempty"`
	PatientID string    `json:"patientId"`
	From      string    `json:"from"`
	Body      string    `json:"body,omitempty"`
	Image     string    `json:"image,omitempty"`
	At        time.Time `json:"at"`
}

// ChatEndPayload terminates a chat; By is the userId of whoever hung up.
type ChatEndPayload struct {
	PatientID string `json:"patientId"`
	By        string `json:"by,omitempty"`
}
