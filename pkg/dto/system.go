package dto

import "github.com/google/uuid"

type IdentityResponse struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

type RosterResponse struct {
	BuiltAt    string             `json:"built_at,omitempty"`
	Embeddings int                `json:"embeddings"`
	Identities []IdentityResponse `json:"identities"`
}

type CameraResponse struct {
	Name      string  `json:"name"`
	Source    string  `json:"source"`
	Threshold float64 `json:"threshold"`
	State     string  `json:"state,omitempty"`
	Frames    int64   `json:"frames"`
}

type WorkerStatus struct {
	Camera string `json:"camera"`
	State  string `json:"state"`
	Frames int64  `json:"frames"`
	Error  string `json:"error,omitempty"`
}

type RunStatusResponse struct {
	Active  bool           `json:"active"`
	Workers []WorkerStatus `json:"workers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
