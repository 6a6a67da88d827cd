// Package narrator turns two index summaries into a natural-language
// description of the change via the Gemini generateContent API. Narration is
// best-effort: any failure here degrades the result, never the task.
package narrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/geovision/geovision-backend/internal/config"
	"github.com/geovision/geovision-backend/internal/logger"
	"github.com/geovision/geovision-backend/internal/models"
)

// ErrNarrationUnavailable covers every narration failure mode: unconfigured
// key, network trouble, model errors, empty responses.
var ErrNarrationUnavailable = errors.New("narration unavailable")

const defaultModel = "gemini-1.5-flash-latest"

// Input carries the numbers and renderings the prompt is built from.
type Input struct {
	AnalysisType     models.AnalysisType
	FromDate         string
	ToDate           string
	MeanFrom         float64
	MeanTo           float64
	ChangePercentage float64
	// Optional data-URL renderings, attached inline when present.
	ImageFrom string
	ImageTo   string
}

// Gemini calls the generateContent endpoint with a structured prompt and
// returns the model's free-text response verbatim.
type Gemini struct {
	// Endpoint overrides the API URL in tests; empty means production.
	Endpoint string

	apiKey string
	model  string
	http   *http.Client
	log    *slog.Logger
}

// NewGemini builds the narrator from service configuration. An empty API key
// is allowed; Narrate then reports ErrNarrationUnavailable.
func NewGemini(cfg *config.Config) *Gemini {
	return &Gemini{
		apiKey: cfg.GoogleAPIKey,
		model:  defaultModel,
		http:   &http.Client{Timeout: cfg.NarrateTimeout},
		log:    logger.L(),
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

var indexNames = map[models.AnalysisType]string{
	models.AnalysisNDVI: "NDVI (Normalized Difference Vegetation Index)",
	models.AnalysisNDWI: "NDWI (Normalized Difference Water Index)",
}

// Narrate asks the model to describe the change between the two summaries.
func (g *Gemini) Narrate(ctx context.Context, in Input) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("%w: GOOGLE_API_KEY not configured", ErrNarrationUnavailable)
	}

	parts := []geminiPart{{Text: prompt(in)}}
	for _, img := range []string{in.ImageFrom, in.ImageTo} {
		if data, ok := strings.CutPrefix(img, "data:image/png;base64,"); ok {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: "image/png",
				Data:     data,
			}})
		}
	}

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: parts}}})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrNarrationUnavailable, err)
	}

	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", g.model)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?key="+g.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNarrationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNarrationUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: model endpoint returned %s", ErrNarrationUnavailable, resp.Status)
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrNarrationUnavailable, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: response has no candidates", ErrNarrationUnavailable)
	}
	text := decoded.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: response text is empty", ErrNarrationUnavailable)
	}
	g.log.Debug("narration produced", "chars", len(text))
	return text, nil
}

func prompt(in Input) string {
	name := indexNames[in.AnalysisType]
	if name == "" {
		name = strings.ToUpper(string(in.AnalysisType))
	}
	return fmt.Sprintf(
		"Two %s renderings of the same geographical area are attached. "+
			"The mean index value was %.4f on %s and %.4f on %s, a change of %.2f%%. "+
			"Describe the likely on-the-ground change concisely, considering urban development, "+
			"deforestation, agricultural expansion, water body changes and other notable "+
			"human activities or natural shifts.",
		name, in.MeanFrom, in.FromDate, in.MeanTo, in.ToDate, in.ChangePercentage)
}
