package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geovision/geovision-backend/internal/config"
	"github.com/geovision/geovision-backend/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		SentinelClientID:     "client-id",
		SentinelClientSecret: "client-secret",
		SearchWindowDays:     10,
		MaxCloudCover:        30,
		FetchTimeout:         5 * time.Second,
	}
}

func testBBox() models.BoundingBox {
	return models.BoundingBox{North: 40.78, South: 40.75, East: -73.94, West: -73.99}
}

// bandPNG encodes a 2x2 provider response: band A 0.6, band B 0.2, all valid.
func bandPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 153, G: 51, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fakeProvider struct {
	tokenCalls   int32
	processCalls int32

	// processStatus is consumed per call; after the slice runs out the
	// provider answers 200 with pngBody.
	processStatus []int
	processBody   string
	pngBody       []byte

	lastPayload processPayload
}

func (p *fakeProvider) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.tokenCalls, 1)
		if r.FormValue("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.FormValue("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "test-token", "expires_in": 3600})
	})
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&p.processCalls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&p.lastPayload); err != nil {
			t.Errorf("decode process payload: %v", err)
		}
		if int(n) <= len(p.processStatus) {
			w.WriteHeader(p.processStatus[n-1])
			w.Write([]byte(p.processBody))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(p.pngBody)
	})
	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(testConfig())
	c.TokenURL = srv.URL + "/oauth/token"
	c.ProcessURL = srv.URL + "/process"
	return c
}

func TestFetchDecodesRaster(t *testing.T) {
	provider := &fakeProvider{pngBody: bandPNG(t)}
	srv := provider.server(t)
	defer srv.Close()
	c := newTestClient(srv)

	raster, err := c.Fetch(context.Background(), testBBox(), "2020-06-15", models.AnalysisNDVI)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if raster.Width != 2 || raster.Height != 2 {
		t.Fatalf("raster size %dx%d", raster.Width, raster.Height)
	}
	if math.Abs(raster.BandA[0]-153.0/255) > 1e-9 || math.Abs(raster.BandB[0]-51.0/255) > 1e-9 {
		t.Errorf("band values = %v, %v", raster.BandA[0], raster.BandB[0])
	}
	if !raster.Valid[0] {
		t.Errorf("pixel with full validity channel marked invalid")
	}
}

func TestFetchRequestShape(t *testing.T) {
	provider := &fakeProvider{pngBody: bandPNG(t)}
	srv := provider.server(t)
	defer srv.Close()
	c := newTestClient(srv)

	if _, err := c.Fetch(context.Background(), testBBox(), "2020-06-15", models.AnalysisNDVI); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	payload := provider.lastPayload
	if got := payload.Input.Bounds.BBox; got != [4]float64{-73.99, 40.75, -73.94, 40.78} {
		t.Errorf("bbox = %v", got)
	}
	df := payload.Input.Data[0].DataFilter
	if df.MosaickingOrder != "leastCC" || df.MaxCC != 30 {
		t.Errorf("dataFilter = %+v", df)
	}
	from, err := time.Parse(time.RFC3339, df.TimeRange.From)
	if err != nil {
		t.Fatalf("parse timeRange.from: %v", err)
	}
	to, _ := time.Parse(time.RFC3339, df.TimeRange.To)
	target, _ := time.Parse("2006-01-02", "2020-06-15")
	if target.Sub(from) != 10*24*time.Hour || to.Sub(target) != 10*24*time.Hour {
		t.Errorf("search window = %s .. %s, want +/- 10 days around target", df.TimeRange.From, df.TimeRange.To)
	}
	if !strings.Contains(payload.Evalscript, "B08") || !strings.Contains(payload.Evalscript, "B04") {
		t.Errorf("ndvi evalscript missing NIR/red bands")
	}
	if payload.Output.Responses[0].Format.Type != "image/png" {
		t.Errorf("output format = %q", payload.Output.Responses[0].Format.Type)
	}
}

func TestFetchNDWIUsesGreenBand(t *testing.T) {
	provider := &fakeProvider{pngBody: bandPNG(t)}
	srv := provider.server(t)
	defer srv.Close()
	c := newTestClient(srv)

	if _, err := c.Fetch(context.Background(), testBBox(), "2020-06-15", models.AnalysisNDWI); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(provider.lastPayload.Evalscript, "B03") {
		t.Errorf("ndwi evalscript missing green band")
	}
}

func TestFetchNoDataIsNotRetried(t *testing.T) {
	provider := &fakeProvider{
		processStatus: []int{http.StatusBadRequest},
		processBody:   `{"error": {"message": "No data available for the requested time range"}}`,
	}
	srv := provider.server(t)
	defer srv.Close()
	c := newTestClient(srv)

	_, err := c.Fetch(context.Background(), testBBox(), "2020-06-15", models.AnalysisNDVI)
	if !errors.Is(err, ErrNoImagery) {
		t.Fatalf("expected ErrNoImagery, got %v", err)
	}
	if got := atomic.LoadInt32(&provider.processCalls); got != 1 {
		t.Errorf("process calls = %d, user-actionable failures must not be retried", got)
	}
}

func TestFetchRetriesTransientFailureOnce(t *testing.T) {
	provider := &fakeProvider{
		processStatus: []int{http.StatusBadGateway},
		pngBody:       bandPNG(t),
	}
	srv := provider.server(t)
	defer srv.Close()
	c := newTestClient(srv)

	raster, err := c.Fetch(context.Background(), testBBox(), "2020-06-15", models.AnalysisNDVI)
	if err != nil {
		t.Fatalf("Fetch after one transient failure: %v", err)
	}
	if raster == nil {
		t.Fatalf("no raster")
	}
	if got := atomic.LoadInt32(&provider.processCalls); got != 2 {
		t.Errorf("process calls = %d, want 2", got)
	}
}

func TestFetchSurfacesPersistentOutage(t *testing.T) {
	provider := &fakeProvider{
		processStatus: []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway},
	}
	srv := provider.server(t)
	defer srv.Close()
	c := newTestClient(srv)

	_, err := c.Fetch(context.Background(), testBBox(), "2020-06-15", models.AnalysisNDVI)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&provider.processCalls); got != 2 {
		t.Errorf("process calls = %d, want exactly one retry", got)
	}
}

func TestAccessTokenIsCached(t *testing.T) {
	provider := &fakeProvider{pngBody: bandPNG(t)}
	srv := provider.server(t)
	defer srv.Close()
	c := newTestClient(srv)

	ctx := context.Background()
	if _, err := c.Fetch(ctx, testBBox(), "2020-06-15", models.AnalysisNDVI); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := c.Fetch(ctx, testBBox(), "2021-06-15", models.AnalysisNDVI); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := atomic.LoadInt32(&provider.tokenCalls); got != 1 {
		t.Errorf("token calls = %d, want 1", got)
	}
}

func TestFetchWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.SentinelClientID = ""
	c := NewClient(cfg)

	_, err := c.Fetch(context.Background(), testBBox(), "2020-06-15", models.AnalysisNDVI)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}
