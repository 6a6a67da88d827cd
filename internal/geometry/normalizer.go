// Package geometry validates analysis requests and derives the canonical
// cache key that collapses equivalent requests to one computation.
package geometry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/s2"

	"github.com/geovision/geovision-backend/internal/models"
)

// MinDate is the start of the Sentinel-2 archive; earlier dates have no data.
const MinDate = "2015-01-01"

const dateLayout = "2006-01-02"

// coordPrecision is the number of bbox decimals that survive into the cache
// key, so near-duplicate draws share one entry.
const coordPrecision = 4

// InvalidRequestError reports which request constraint was violated. It is
// rejected synchronously and never retried.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}

// Normalizer turns raw requests into validated, canonical ones.
type Normalizer struct {
	// MaxExtentDegrees bounds the AOI span on either axis; zero disables
	// the check.
	MaxExtentDegrees float64

	// Now is the clock used for the upper date bound; nil means time.Now.
	Now func() time.Time
}

// New returns a Normalizer with the given AOI extent bound.
func New(maxExtentDegrees float64) *Normalizer {
	return &Normalizer{MaxExtentDegrees: maxExtentDegrees}
}

// Normalize validates the request in place (canonicalizing the analysis
// type) and returns its cache key. It is deterministic: equivalent requests,
// including bbox coordinates differing only past the rounding precision,
// yield identical keys.
func (n *Normalizer) Normalize(req *models.AnalysisRequest) (string, error) {
	if req.AnalysisType == "" {
		req.AnalysisType = models.AnalysisNDVI
	}
	req.AnalysisType = models.AnalysisType(strings.ToLower(string(req.AnalysisType)))
	if !req.AnalysisType.Valid() {
		return "", invalid("unsupported analysis_type %q", req.AnalysisType)
	}

	if err := n.validateBBox(req.BBox); err != nil {
		return "", err
	}
	if err := n.validateDates(req.FromDate, req.ToDate); err != nil {
		return "", err
	}

	return key(req), nil
}

func (n *Normalizer) validateBBox(b models.BoundingBox) error {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"north", b.North}, {"south", b.South}, {"east", b.East}, {"west", b.West},
	} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return invalid("bbox %s is not a finite number", c.name)
		}
	}
	if b.North < -90 || b.North > 90 || b.South < -90 || b.South > 90 {
		return invalid("bbox latitudes must be within [-90, 90]")
	}
	if b.East < -180 || b.East > 180 || b.West < -180 || b.West > 180 {
		return invalid("bbox longitudes must be within [-180, 180]")
	}
	if b.North <= b.South {
		return invalid("bbox north (%g) must be greater than south (%g)", b.North, b.South)
	}
	// Antimeridian wraparound is not supported; such boxes are rejected here.
	if b.East <= b.West {
		return invalid("bbox east (%g) must be greater than west (%g)", b.East, b.West)
	}

	if n.MaxExtentDegrees > 0 {
		rect := s2.RectFromLatLng(s2.LatLngFromDegrees(b.South, b.West))
		rect = rect.AddPoint(s2.LatLngFromDegrees(b.North, b.East))
		size := rect.Size()
		if size.Lat.Degrees() > n.MaxExtentDegrees || size.Lng.Degrees() > n.MaxExtentDegrees {
			return invalid("bbox spans more than %g degrees on one axis", n.MaxExtentDegrees)
		}
	}
	return nil
}

func (n *Normalizer) validateDates(from, to string) error {
	fromDate, err := time.Parse(dateLayout, from)
	if err != nil {
		return invalid("from_date %q is not a valid YYYY-MM-DD date", from)
	}
	toDate, err := time.Parse(dateLayout, to)
	if err != nil {
		return invalid("to_date %q is not a valid YYYY-MM-DD date", to)
	}
	if toDate.Before(fromDate) {
		return invalid("from_date %s must not be after to_date %s", from, to)
	}

	min, _ := time.Parse(dateLayout, MinDate)
	if fromDate.Before(min) {
		return invalid("from_date %s is before the imagery archive start %s", from, MinDate)
	}

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	today := now().UTC().Truncate(24 * time.Hour)
	if toDate.After(today) {
		return invalid("to_date %s is in the future", to)
	}
	return nil
}

// key serializes the rounded bbox, dates and analysis type, then digests
// the string so equal requests share a fixed-width identifier.
func key(req *models.AnalysisRequest) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		roundCoord(req.BBox.West), roundCoord(req.BBox.South),
		roundCoord(req.BBox.East), roundCoord(req.BBox.North),
		req.FromDate, req.ToDate, req.AnalysisType)
	sum := sha256.Sum256([]byte(payload))
	return "analysis:" + hex.EncodeToString(sum[:])
}

func roundCoord(v float64) string {
	scale := math.Pow10(coordPrecision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0 // normalize negative zero
	}
	return fmt.Sprintf("%.*f", coordPrecision, r)
}
