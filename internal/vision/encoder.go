package vision

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/observability"
)

var (
	ErrNoFace        = errors.New("no face found")
	ErrMultipleFaces = errors.New("more than one face found")
)

// Face is one validated, encoded face region.
type Face struct {
	Box       Box
	Score     float32
	Embedding []float32
	Crop      image.Image
}

type FaceDetector interface {
	DetectImage(img image.Image) ([]Detection, error)
}

type FaceEmbedder interface {
	Extract(face []float32) ([]float32, error)
	InputSize() (int, int)
}

// FaceEncoder turns frames into (box, embedding) pairs. It is safe for
// concurrent use; model sessions are serialised.
type FaceEncoder struct {
	mu       sync.Mutex
	detector FaceDetector
	embedder FaceEmbedder
	closers  []func()
}

func NewFaceEncoder(d FaceDetector, e FaceEmbedder) *FaceEncoder {
	return &FaceEncoder{detector: d, embedder: e}
}

// LoadFaceEncoder loads the ONNX detector and embedder from cfg.ModelsDir.
// The ONNX runtime must already be initialised.
func LoadFaceEncoder(cfg config.VisionConfig) (*FaceEncoder, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	enc := NewFaceEncoder(det, emb)
	enc.closers = []func(){det.Close, emb.Close}
	return enc, nil
}

// Encode detects faces in img and embeds every candidate whose box lies
// fully inside the frame. Failures never escape: a failing candidate is
// skipped and a failing detector yields no faces.
func (e *FaceEncoder) Encode(img image.Image) []Face {
	e.mu.Lock()
	defer e.mu.Unlock()

	dets := e.detect(img)
	if len(dets) == 0 {
		return nil
	}

	var faces []Face
	bounds := img.Bounds()
	for _, d := range dets {
		box := d.Box()
		if !box.Within(bounds) {
			observability.BoxesRejected.Inc()
			continue
		}
		if f, ok := e.encodeCandidate(img, d, box); ok {
			faces = append(faces, f)
		}
	}
	return faces
}

func (e *FaceEncoder) detect(img image.Image) (dets []Detection) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("face detector panic", "panic", r)
			dets = nil
		}
	}()

	start := time.Now()
	dets, err := e.detector.DetectImage(img)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("detect faces", "error", err)
		return nil
	}
	return dets
}

func (e *FaceEncoder) encodeCandidate(img image.Image, d Detection, box Box) (f Face, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("face embedder panic", "box", box, "panic", r)
			f, ok = Face{}, false
		}
	}()

	crop := cropFace(img, box)
	if crop == nil {
		return Face{}, false
	}

	w, h := e.embedder.InputSize()
	start := time.Now()
	emb, err := e.embedder.Extract(preprocessFace(crop, w, h))
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Debug("embed face", "box", box, "error", err)
		return Face{}, false
	}
	return Face{Box: box, Score: d.Confidence, Embedding: emb, Crop: crop}, true
}

// EncodeReference returns the single embedding of a reference photo.
func (e *FaceEncoder) EncodeReference(img image.Image) ([]float32, error) {
	faces := e.Encode(img)
	switch len(faces) {
	case 0:
		return nil, ErrNoFace
	case 1:
		return faces[0].Embedding, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrMultipleFaces, len(faces))
	}
}

func (e *FaceEncoder) Close() {
	for _, c := range e.closers {
		c()
	}
}
