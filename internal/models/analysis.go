package models

// AnalysisType selects the spectral index derived from the imagery.
type AnalysisType string

const (
	AnalysisNDVI AnalysisType = "ndvi"
	AnalysisNDWI AnalysisType = "ndwi"
)

// Valid reports whether the analysis type is one we can compute.
func (t AnalysisType) Valid() bool {
	return t == AnalysisNDVI || t == AnalysisNDWI
}

// BoundingBox is the user-drawn area of interest in WGS84 degrees.
type BoundingBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// AnalysisRequest describes one change analysis: an area, two dates
// (YYYY-MM-DD) and the index to derive.
type AnalysisRequest struct {
	BBox         BoundingBox  `json:"bbox"`
	FromDate     string       `json:"from_date"`
	ToDate       string       `json:"to_date"`
	AnalysisType AnalysisType `json:"analysis_type"`
}

// RasterImage holds the decoded spectral bands for one date and extent.
// Bands are ordered so the index is always (BandA-BandB)/(BandA+BandB):
// NDVI carries NIR in A and red in B, NDWI carries green in A and NIR in B.
// Values are reflectance scaled to [0,1]; Valid marks pixels that survived
// the provider's cloud/no-data mask.
type RasterImage struct {
	Width  int
	Height int
	BandA  []float64
	BandB  []float64
	Valid  []bool
}

// IndexSummary is the reduction of one raster: the masked mean of the index
// and a false-color rendering encoded as a data URL.
type IndexSummary struct {
	Mean          float64
	RenderedImage string
}

// AnalysisResult is the immutable outcome of one analysis. Means are rounded
// to 4 decimals, the change percentage to 2, matching what clients display.
type AnalysisResult struct {
	AnalysisType     string  `json:"analysis_type"`
	FromDateStr      string  `json:"from_date_str"`
	ToDateStr        string  `json:"to_date_str"`
	MeanIndexFrom    float64 `json:"mean_index_from"`
	MeanIndexTo      float64 `json:"mean_index_to"`
	ChangePercentage float64 `json:"change_percentage"`
	ImageFrom        string  `json:"image_from"`
	ImageTo          string  `json:"image_to"`
	Narration        string  `json:"narration,omitempty"`
}
