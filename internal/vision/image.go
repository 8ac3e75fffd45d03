package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

var (
	detectorMean = [3]float32{127.5, 127.5, 127.5}
	detectorStd  = [3]float32{128, 128, 128}
	embedderMean = [3]float32{127.5, 127.5, 127.5}
	embedderStd  = [3]float32{127.5, 127.5, 127.5}
)

// cropPadding widens the crop by this fraction of the box on each side,
// clamped to the frame.
const cropPadding = 0.1

// DecodeImage decodes JPEG or PNG bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// resize scales img to exactly w x h.
func resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// cropFace returns the padded region of box. box must already be within
// the image bounds.
func cropFace(img image.Image, box Box) image.Image {
	bounds := img.Bounds()
	padW := int(float64(box.Width()) * cropPadding)
	padH := int(float64(box.Height()) * cropPadding)

	r := image.Rect(box.X1-padW, box.Y1-padH, box.X2+padW, box.Y2+padH).Intersect(bounds)
	if r.Empty() {
		return nil
	}

	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// toCHW converts an RGBA image to planar float32, (p - mean) / std.
func toCHW(img *image.RGBA, mean, std [3]float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			i := y*w + x
			out[i] = (float32(px[0]) - mean[0]) / std[0]
			out[plane+i] = (float32(px[1]) - mean[1]) / std[1]
			out[2*plane+i] = (float32(px[2]) - mean[2]) / std[2]
		}
	}
	return out
}

func preprocessFace(crop image.Image, w, h int) []float32 {
	return toCHW(resize(crop, w, h), embedderMean, embedderStd)
}
