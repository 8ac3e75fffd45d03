package models

import "github.com/google/uuid"

// Identity is a known person the pipeline can recognize. ID is the only key
// used by the core; Name is display metadata.
type Identity struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Code           string    `json:"code" db:"code"`
	Name           string    `json:"name" db:"name"`
	ReferenceImage string    `json:"reference_image" db:"reference_image"`
	Active         bool      `json:"active" db:"active"`
}
