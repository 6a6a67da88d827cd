package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geovision/geovision-backend/internal/config"
	"github.com/geovision/geovision-backend/internal/models"
)

func testInput() Input {
	return Input{
		AnalysisType:     models.AnalysisNDVI,
		FromDate:         "2020-06-15",
		ToDate:           "2023-06-15",
		MeanFrom:         0.5123,
		MeanTo:           0.2511,
		ChangePercentage: -50.99,
	}
}

func newTestGemini(srv *httptest.Server) *Gemini {
	g := NewGemini(&config.Config{GoogleAPIKey: "test-key", NarrateTimeout: 5 * time.Second})
	g.Endpoint = srv.URL
	return g
}

func candidateBody(text string) string {
	raw, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return string(raw)
}

func TestNarrateWithoutKey(t *testing.T) {
	g := NewGemini(&config.Config{NarrateTimeout: time.Second})
	_, err := g.Narrate(context.Background(), testInput())
	if !errors.Is(err, ErrNarrationUnavailable) {
		t.Errorf("expected ErrNarrationUnavailable, got %v", err)
	}
}

func TestNarrateReturnsModelText(t *testing.T) {
	var captured geminiRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.URL.Query().Get("key")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(candidateBody("Vegetation cover declined sharply.")))
	}))
	defer srv.Close()
	g := newTestGemini(srv)

	text, err := g.Narrate(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if text != "Vegetation cover declined sharply." {
		t.Errorf("text = %q", text)
	}
	if key != "test-key" {
		t.Errorf("key query param = %q", key)
	}

	if len(captured.Contents) != 1 || len(captured.Contents[0].Parts) != 1 {
		t.Fatalf("request shape: %+v", captured)
	}
	p := captured.Contents[0].Parts[0].Text
	for _, want := range []string{"NDVI", "0.5123", "0.2511", "2020-06-15", "2023-06-15", "-50.99%"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestNarrateAttachesRenderings(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(candidateBody("ok")))
	}))
	defer srv.Close()
	g := newTestGemini(srv)

	in := testInput()
	in.ImageFrom = "data:image/png;base64,QUFB"
	in.ImageTo = "data:image/png;base64,QkJC"
	if _, err := g.Narrate(context.Background(), in); err != nil {
		t.Fatalf("Narrate: %v", err)
	}

	parts := captured.Contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want prompt plus two images", len(parts))
	}
	for i, want := range []string{"QUFB", "QkJC"} {
		inline := parts[i+1].InlineData
		if inline == nil || inline.Data != want || inline.MimeType != "image/png" {
			t.Errorf("inline part %d = %+v", i+1, inline)
		}
	}
}

func TestNarrateSkipsMalformedRendering(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(candidateBody("ok")))
	}))
	defer srv.Close()
	g := newTestGemini(srv)

	in := testInput()
	in.ImageFrom = "not-a-data-url"
	if _, err := g.Narrate(context.Background(), in); err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if len(captured.Contents[0].Parts) != 1 {
		t.Errorf("parts = %d, malformed rendering must be dropped", len(captured.Contents[0].Parts))
	}
}

func TestNarrateModelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	g := newTestGemini(srv)

	_, err := g.Narrate(context.Background(), testInput())
	if !errors.Is(err, ErrNarrationUnavailable) {
		t.Errorf("expected ErrNarrationUnavailable, got %v", err)
	}
}

func TestNarrateEmptyCandidates(t *testing.T) {
	for name, body := range map[string]string{
		"no candidates": `{"candidates": []}`,
		"blank text":    candidateBody("   "),
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()
			g := newTestGemini(srv)

			_, err := g.Narrate(context.Background(), testInput())
			if !errors.Is(err, ErrNarrationUnavailable) {
				t.Errorf("expected ErrNarrationUnavailable, got %v", err)
			}
		})
	}
}
