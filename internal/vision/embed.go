package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// FaceSize is the edge of the square crop every embedding is computed from.
	FaceSize     = 112
	EmbeddingDim = 512
)

// Embedder runs the ArcFace w600k_r50 model on FaceSize crops.
type Embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{}

	var err error
	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, FaceSize, FaceSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, EmbeddingDim))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"683"},
		[]ort.Value{e.input}, []ort.Value{e.output},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Extract returns the L2-normalised embedding of a CHW face crop.
func (e *Embedder) Extract(face []float32) ([]float32, error) {
	if len(face) != 3*FaceSize*FaceSize {
		return nil, fmt.Errorf("embedder input has %d values, want %d", len(face), 3*FaceSize*FaceSize)
	}
	copy(e.input.GetData(), face)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	emb := make([]float32, EmbeddingDim)
	copy(emb, e.output.GetData())
	normalize(emb)
	return emb, nil
}

func (e *Embedder) InputSize() (int, int) { return FaceSize, FaceSize }

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}
