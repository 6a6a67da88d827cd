// Package imagery talks to the Sentinel Hub Process API: OAuth token
// acquisition, a least-cloudy scene search around the requested date, and
// retrieval of just the spectral bands the requested index needs.
package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/geovision/geovision-backend/internal/config"
	"github.com/geovision/geovision-backend/internal/logger"
	"github.com/geovision/geovision-backend/internal/models"
)

const (
	defaultTokenURL   = "https://services.sentinel-hub.com/oauth/token"
	defaultProcessURL = "https://services.sentinel-hub.com/api/v1/process"

	dataCollection = "sentinel-2-l2a"
	outputSize     = 512
	dateLayout     = "2006-01-02"
)

// Evalscripts return the two index bands plus a validity channel as an 8-bit
// PNG. Band order matches models.RasterImage: the index is always
// (A-B)/(A+B). SCL classes 8, 9 and 10 (clouds, cirrus) are masked out.
var evalscripts = map[models.AnalysisType]string{
	models.AnalysisNDVI: `//VERSION=3
function setup() {
    return { input: ["B08", "B04", "SCL"], output: { bands: 3, sampleType: "UINT8" } };
}
function evaluatePixel(sample) {
    if ([8, 9, 10].includes(sample.SCL)) { return [0, 0, 0]; }
    var a = Math.min(Math.max(sample.B08, 0), 1);
    var b = Math.min(Math.max(sample.B04, 0), 1);
    return [a * 255, b * 255, 255];
}`,
	models.AnalysisNDWI: `//VERSION=3
function setup() {
    return { input: ["B03", "B08", "SCL"], output: { bands: 3, sampleType: "UINT8" } };
}
function evaluatePixel(sample) {
    if ([8, 9, 10].includes(sample.SCL)) { return [0, 0, 0]; }
    var a = Math.min(Math.max(sample.B03, 0), 1);
    var b = Math.min(Math.max(sample.B08, 0), 1);
    return [a * 255, b * 255, 255];
}`,
}

// Client fetches rasters from Sentinel Hub. The OAuth token is cached and
// refreshed under lock shortly before expiry.
type Client struct {
	// Endpoint overrides, used by tests; zero values mean production URLs.
	TokenURL   string
	ProcessURL string

	clientID      string
	clientSecret  string
	windowDays    int
	maxCloudCover int
	http          *http.Client
	log           *slog.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient builds a Client from service configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		TokenURL:      defaultTokenURL,
		ProcessURL:    defaultProcessURL,
		clientID:      cfg.SentinelClientID,
		clientSecret:  cfg.SentinelClientSecret,
		windowDays:    cfg.SearchWindowDays,
		maxCloudCover: cfg.MaxCloudCover,
		http:          &http.Client{Timeout: cfg.FetchTimeout},
		log:           logger.L(),
	}
}

// Fetch obtains the raster for one date and extent. Transient provider
// failures are retried exactly once; a window with no usable scene surfaces
// as ErrNoImagery. Each call consumes provider quota, so callers go through
// the result cache before invoking it.
func (c *Client) Fetch(ctx context.Context, bbox models.BoundingBox, date string, typ models.AnalysisType) (*models.RasterImage, error) {
	raster, err := c.fetchOnce(ctx, bbox, date, typ)
	if errors.Is(err, ErrProviderUnavailable) {
		c.log.Warn("imagery fetch hit transient failure, retrying once", "date", date, "err", err)
		raster, err = c.fetchOnce(ctx, bbox, date, typ)
	}
	return raster, err
}

func (c *Client) fetchOnce(ctx context.Context, bbox models.BoundingBox, date string, typ models.AnalysisType) (*models.RasterImage, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.process(ctx, token, bbox, date, typ)
}

// accessToken returns a cached OAuth token, refreshing it when it is within
// a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("%w: provider credentials not configured", ErrProviderUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExp) > time.Minute {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: token endpoint returned %s", ErrProviderUnavailable, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider authentication failed: %s", resp.Status)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrProviderUnavailable, err)
	}
	c.token = payload.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.token, nil
}

type processPayload struct {
	Input      processInput  `json:"input"`
	Output     processOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type processInput struct {
	Bounds processBounds `json:"bounds"`
	Data   []processData `json:"data"`
}

type processBounds struct {
	BBox       [4]float64        `json:"bbox"`
	Properties map[string]string `json:"properties"`
}

type processData struct {
	Type       string     `json:"type"`
	DataFilter dataFilter `json:"dataFilter"`
}

type dataFilter struct {
	TimeRange       timeRange `json:"timeRange"`
	MosaickingOrder string    `json:"mosaickingOrder"`
	MaxCC           int       `json:"maxcc"`
}

type timeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type processOutput struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Responses []processResponse `json:"responses"`
}

type processResponse struct {
	Identifier string        `json:"identifier"`
	Format     processFormat `json:"format"`
}

type processFormat struct {
	Type string `json:"type"`
}

func (c *Client) process(ctx context.Context, token string, bbox models.BoundingBox, date string, typ models.AnalysisType) (*models.RasterImage, error) {
	target, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	window := time.Duration(c.windowDays) * 24 * time.Hour

	payload := processPayload{
		Input: processInput{
			Bounds: processBounds{
				BBox:       [4]float64{bbox.West, bbox.South, bbox.East, bbox.North},
				Properties: map[string]string{"crs": "http://www.opengis.net/def/crs/EPSG/0/4326"},
			},
			Data: []processData{{
				Type: dataCollection,
				DataFilter: dataFilter{
					TimeRange: timeRange{
						From: target.Add(-window).Format(time.RFC3339),
						To:   target.Add(window).Format(time.RFC3339),
					},
					MosaickingOrder: "leastCC",
					MaxCC:           c.maxCloudCover,
				},
			}},
		},
		Output: processOutput{
			Width:  outputSize,
			Height: outputSize,
			Responses: []processResponse{{
				Identifier: "default",
				Format:     processFormat{Type: "image/png"},
			}},
		},
		Evalscript: evalscripts[typ],
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ProcessURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: process request: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: process endpoint returned %s", ErrProviderUnavailable, resp.Status)
	case resp.StatusCode == http.StatusBadRequest:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.Contains(string(detail), "No data available") {
			return nil, fmt.Errorf("%w (date %s, maxcc %d%%)", ErrNoImagery, date, c.maxCloudCover)
		}
		return nil, fmt.Errorf("provider rejected process request: %s", strings.TrimSpace(string(detail)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("provider process request failed: %s", resp.Status)
	}

	raster, err := decodeRaster(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode provider raster: %w", err)
	}
	c.log.Debug("fetched raster", "date", date, "type", typ, "width", raster.Width, "height", raster.Height)
	return raster, nil
}

// decodeRaster unpacks the provider PNG into band slices. Red carries band A,
// green band B, blue marks validity (0 means cloud/no-data).
func decodeRaster(r io.Reader) (*models.RasterImage, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	raster := &models.RasterImage{
		Width:  w,
		Height: h,
		BandA:  make([]float64, w*h),
		BandB:  make([]float64, w*h),
		Valid:  make([]bool, w*h),
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			raster.BandA[i] = float64(r16>>8) / 255
			raster.BandB[i] = float64(g16>>8) / 255
			raster.Valid[i] = b16>>8 > 0
			i++
		}
	}
	return raster, nil
}
