package embedding

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// clipSize is the square input resolution of the CLIP vision tower.
const clipSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// pixelValues converts img into a CHW float tensor slice of
// 3*clipSize*clipSize values: shortest side resized to clipSize, centre
// cropped, then normalised with the CLIP mean and std.
func pixelValues(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return make([]float32, 3*clipSize*clipSize)
	}

	sw, sh := clipSize, clipSize
	if w < h {
		sh = h * clipSize / w
	} else {
		sw = w * clipSize / h
	}
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	x0 := (sw - clipSize) / 2
	y0 := (sh - clipSize) / 2
	plane := clipSize * clipSize
	out := make([]float32, 3*plane)
	for y := 0; y < clipSize; y++ {
		for x := 0; x < clipSize; x++ {
			off := scaled.PixOffset(x0+x, y0+y)
			px := scaled.Pix[off : off+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				out[c*plane+y*clipSize+x] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
