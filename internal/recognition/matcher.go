package recognition

import (
	"math"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/vision"
)

// Result is the outcome of matching one face. Identity is nil when the face
// is not recognized.
type Result struct {
	Identity *models.Identity
	Distance float64
	Box      vision.Box
}

func (r Result) Recognized() bool { return r.Identity != nil }

// Match finds the snapshot embedding closest to query by Euclidean distance.
// The face is recognized only when that distance is strictly below
// threshold. On equal distances the earlier entry wins. An empty snapshot
// never recognizes anything.
func Match(query []float32, snap *Snapshot, threshold float64) Result {
	best := -1
	bestDist := math.Inf(1)

	for i := 0; i < snap.Len(); i++ {
		d := EuclideanDistance(query, snap.embeddings[i])
		if d < bestDist {
			best, bestDist = i, d
		}
	}

	res := Result{Distance: bestDist}
	if best >= 0 && bestDist < threshold {
		id := snap.identities[best]
		res.Identity = &id
	}
	return res
}

// EuclideanDistance returns +Inf for vectors of different length.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
