package vision

import (
	"fmt"
	"image"
	"math"
	"slices"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one raw detector candidate.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 in original frame pixels, unclamped
	Confidence float32
	Landmarks  [5][2]float32
}

// Box returns the pixel box of the candidate.
func (d Detection) Box() Box { return boxFromBBox(d.BBox) }

// Detector runs the RetinaFace det_10g model.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsIoU           = 0.4
)

// det_10g outputs have no batch dimension: scores, boxes and landmarks for
// strides 8, 16 and 32, in that order.
var detectorOutputs = []struct {
	name  string
	shape ort.Shape
}{
	{"448", ort.NewShape(12800, 1)},
	{"471", ort.NewShape(3200, 1)},
	{"494", ort.NewShape(800, 1)},
	{"451", ort.NewShape(12800, 4)},
	{"474", ort.NewShape(3200, 4)},
	{"497", ort.NewShape(800, 4)},
	{"454", ort.NewShape(12800, 10)},
	{"477", ort.NewShape(3200, 10)},
	{"500", ort.NewShape(800, 10)},
}

// NewDetector loads the detection model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, inputW: 640, inputH: 640}

	var err error
	d.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	names := make([]string, len(detectorOutputs))
	values := make([]ort.Value, len(detectorOutputs))
	for i, out := range detectorOutputs {
		t, err := ort.NewEmptyTensor[float32](out.shape)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		names[i] = out.name
		values[i] = t
		d.outputTensors = append(d.outputTensors, t)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{d.inputTensor}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// DetectImage preprocesses img and returns NMS-filtered candidates in img
// coordinates.
func (d *Detector) DetectImage(img image.Image) ([]Detection, error) {
	b := img.Bounds()
	input := toCHW(resize(img, d.inputW, d.inputH), detectorMean, detectorStd)
	dets, err := d.Detect(input, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	if b.Min != (image.Point{}) {
		for i := range dets {
			dets[i].BBox[0] += float32(b.Min.X)
			dets[i].BBox[1] += float32(b.Min.Y)
			dets[i].BBox[2] += float32(b.Min.X)
			dets[i].BBox[3] += float32(b.Min.Y)
		}
	}
	return dets, nil
}

// Detect runs the model on CHW input and scales candidates to origW x origH.
func (d *Detector) Detect(input []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	return nms(d.decode(origW, origH), nmsIoU), nil
}

func (d *Detector) decode(origW, origH int) []Detection {
	var out []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()
		marks := d.outputTensors[si+6].GetData()

		st := float32(stride)
		idx := 0
		for cy := 0; cy < d.inputH/stride; cy++ {
			for cx := 0; cx < d.inputW/stride; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if scores[idx] >= d.threshold {
						ax := float32(cx) * st
						ay := float32(cy) * st

						det := Detection{
							BBox: [4]float32{
								(ax - boxes[idx*4+0]*st) * scaleW,
								(ay - boxes[idx*4+1]*st) * scaleH,
								(ax + boxes[idx*4+2]*st) * scaleW,
								(ay + boxes[idx*4+3]*st) * scaleH,
							},
							Confidence: scores[idx],
						}
						for li := 0; li < 5; li++ {
							det.Landmarks[li][0] = (ax + marks[idx*10+li*2]*st) * scaleW
							det.Landmarks[li][1] = (ay + marks[idx*10+li*2+1]*st) * scaleH
						}
						out = append(out, det)
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// nms keeps the most confident candidate of every overlapping group.
func nms(dets []Detection, threshold float32) []Detection {
	if len(dets) == 0 {
		return dets
	}
	slices.SortStableFunc(dets, func(a, b Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	kept := dets[:0:0]
	for _, cand := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(k.BBox, cand.BBox) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := math.Max(float64(a[0]), float64(b[0]))
	y1 := math.Max(float64(a[1]), float64(b[1]))
	x2 := math.Min(float64(a[2]), float64(b[2]))
	y2 := math.Min(float64(a[3]), float64(b[3]))

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := float64((a[2]-a[0])*(a[3]-a[1])+(b[2]-b[0])*(b[3]-b[1])) - inter
	if union <= 0 {
		return 0
	}
	return float32(inter / union)
}
