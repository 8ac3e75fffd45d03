// Package recognition holds the roster embedding snapshot and the nearest
// neighbour matcher that runs against it.
package recognition

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/models"
)

// Snapshot is an immutable view of the roster: embeddings[i] belongs to
// identities[i]. An identity may own several entries.
type Snapshot struct {
	embeddings [][]float32
	identities []models.Identity
	builtAt    time.Time
}

// NewSnapshot copies the given parallel slices into a new snapshot.
func NewSnapshot(embeddings [][]float32, identities []models.Identity, builtAt time.Time) (*Snapshot, error) {
	if len(embeddings) != len(identities) {
		return nil, fmt.Errorf("snapshot has %d embeddings for %d identities", len(embeddings), len(identities))
	}
	s := &Snapshot{
		embeddings: make([][]float32, len(embeddings)),
		identities: make([]models.Identity, len(identities)),
		builtAt:    builtAt,
	}
	for i, e := range embeddings {
		s.embeddings[i] = append([]float32(nil), e...)
	}
	copy(s.identities, identities)
	return s, nil
}

// Len returns the number of embeddings. A nil snapshot is empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.embeddings)
}

func (s *Snapshot) BuiltAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.builtAt
}

// Identity returns the owner of embedding i.
func (s *Snapshot) Identity(i int) models.Identity {
	return s.identities[i]
}

// Identities returns the distinct identities in snapshot order.
func (s *Snapshot) Identities() []models.Identity {
	if s == nil {
		return nil
	}
	seen := make(map[uuid.UUID]bool, len(s.identities))
	out := make([]models.Identity, 0, len(s.identities))
	for _, id := range s.identities {
		if !seen[id.ID] {
			seen[id.ID] = true
			out = append(out, id)
		}
	}
	return out
}
