package dataset

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
)

// augmentor produces randomized training variants of a source image. All
// parameters come from configuration; a fixed seed yields fixed variants.
type augmentor struct {
	size        int
	factor      int
	maxRotation int
	rng         *rand.Rand
}

// canonical scales and center-crops the image to the target square. Used
// as-is for validation samples and as the base training sample.
func (a *augmentor) canonical(img image.Image) image.Image {
	return imaging.Fill(img, a.size, a.size, imaging.Center, imaging.Lanczos)
}

// variants returns factor augmented copies: random crop from a slightly
// oversized resize, optional horizontal flip, and a bounded rotation.
func (a *augmentor) variants(img image.Image) []image.Image {
	if a.factor <= 0 {
		return nil
	}

	// Oversize by an eighth so the random crop has room to move.
	oversize := a.size + a.size/8
	base := imaging.Fill(img, oversize, oversize, imaging.Center, imaging.Lanczos)

	out := make([]image.Image, 0, a.factor)
	for i := 0; i < a.factor; i++ {
		x := a.rng.Intn(oversize - a.size + 1)
		y := a.rng.Intn(oversize - a.size + 1)
		v := imaging.Crop(base, image.Rect(x, y, x+a.size, y+a.size))

		if a.rng.Intn(2) == 0 {
			v = imaging.FlipH(v)
		}

		if a.maxRotation > 0 {
			angle := (a.rng.Float64()*2 - 1) * float64(a.maxRotation)
			// Rotation expands the canvas; crop back to the target square.
			v = imaging.Rotate(v, angle, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			v = imaging.CropCenter(v, a.size, a.size)
		}

		out = append(out, v)
	}

	return out
}
