package vision

import (
	"image"
	"math"
)

// Box is a face region in frame pixel coordinates.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Width() int  { return b.X2 - b.X1 }
func (b Box) Height() int { return b.Y2 - b.Y1 }

func (b Box) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Within reports whether b has positive area and lies entirely inside
// bounds. Partial boxes at the frame edge are not within.
func (b Box) Within(bounds image.Rectangle) bool {
	if b.Empty() {
		return false
	}
	return b.X1 >= bounds.Min.X && b.Y1 >= bounds.Min.Y &&
		b.X2 <= bounds.Max.X && b.Y2 <= bounds.Max.Y
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// boxFromBBox rounds detector float coordinates to pixels. Coordinates are
// not clamped so that out-of-frame detections stay detectable.
func boxFromBBox(bbox [4]float32) Box {
	return Box{
		X1: int(math.Round(float64(bbox[0]))),
		Y1: int(math.Round(float64(bbox[1]))),
		X2: int(math.Round(float64(bbox[2]))),
		Y2: int(math.Round(float64(bbox[3]))),
	}
}
