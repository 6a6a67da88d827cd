// Package index derives a spectral index from raster bands and reduces it
// to a masked mean plus a false-color rendering.
package index

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/geovision/geovision-backend/internal/models"
)

// ErrInsufficientValidPixels means the cloud/no-data mask covered the whole
// extent, so no meaningful mean exists. The user can try other dates.
var ErrInsufficientValidPixels = errors.New("no valid pixels in the requested extent")

// Compute applies the band-ratio formula per pixel in [-1, 1], excluding
// masked and zero-denominator pixels from the mean, and renders the index
// through the color ramp for the analysis type.
func Compute(raster *models.RasterImage, typ models.AnalysisType) (models.IndexSummary, error) {
	n := raster.Width * raster.Height
	if n == 0 || len(raster.BandA) != n || len(raster.BandB) != n || len(raster.Valid) != n {
		return models.IndexSummary{}, fmt.Errorf("malformed raster: %dx%d with %d/%d/%d samples",
			raster.Width, raster.Height, len(raster.BandA), len(raster.BandB), len(raster.Valid))
	}

	values := make([]float64, n)
	usable := make([]bool, n)
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		if !raster.Valid[i] {
			continue
		}
		denom := raster.BandA[i] + raster.BandB[i]
		if denom == 0 {
			continue
		}
		v := (raster.BandA[i] - raster.BandB[i]) / denom
		v = math.Max(-1, math.Min(1, v))
		values[i] = v
		usable[i] = true
		sum += v
		count++
	}
	if count == 0 {
		return models.IndexSummary{}, ErrInsufficientValidPixels
	}

	rendered, err := render(raster.Width, raster.Height, values, usable, typ)
	if err != nil {
		return models.IndexSummary{}, fmt.Errorf("render index image: %w", err)
	}

	return models.IndexSummary{
		Mean:          sum / float64(count),
		RenderedImage: rendered,
	}, nil
}

// Color ramps over [-1, 1]. Vegetation runs water-blue through bare soil to
// dense green; water runs dry brown through neutral to deep blue. Masked
// pixels render black.
var ramps = map[models.AnalysisType][3]color.NRGBA{
	models.AnalysisNDVI: {
		{R: 0x2c, G: 0x7f, B: 0xb8, A: 0xff},
		{R: 0xd9, G: 0xc8, B: 0xa0, A: 0xff},
		{R: 0x1a, G: 0x78, B: 0x37, A: 0xff},
	},
	models.AnalysisNDWI: {
		{R: 0x8c, G: 0x6d, B: 0x3f, A: 0xff},
		{R: 0xe8, G: 0xe2, B: 0xc8, A: 0xff},
		{R: 0x08, G: 0x51, B: 0x9c, A: 0xff},
	},
}

func render(w, h int, values []float64, usable []bool, typ models.AnalysisType) (string, error) {
	ramp, ok := ramps[typ]
	if !ok {
		ramp = ramps[models.AnalysisNDVI]
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, v := range values {
		c := color.NRGBA{A: 0xff}
		if usable[i] {
			c = rampColor(ramp, v)
		}
		img.SetNRGBA(i%w, i/w, c)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// rampColor interpolates a three-stop ramp: -1 maps to the first stop, 0 to
// the middle, +1 to the last.
func rampColor(ramp [3]color.NRGBA, v float64) color.NRGBA {
	lo, hi := ramp[0], ramp[1]
	t := v + 1
	if v >= 0 {
		lo, hi = ramp[1], ramp[2]
		t = v
	}
	return color.NRGBA{
		R: lerp(lo.R, hi.R, t),
		G: lerp(lo.G, hi.G, t),
		B: lerp(lo.B, hi.B, t),
		A: 0xff,
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}
