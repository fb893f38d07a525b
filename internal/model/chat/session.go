package chat

import "time"

// Session captures one conversation scope, optionally pinned to a patient.
type Session struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
