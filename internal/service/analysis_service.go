// Package service owns the asynchronous analysis lifecycle: it accepts a
// request, returns a task handle immediately, runs the two-stage pipeline in
// the background and answers polls until the task is evicted.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/geovision/geovision-backend/internal/cache"
	"github.com/geovision/geovision-backend/internal/geometry"
	"github.com/geovision/geovision-backend/internal/imagery"
	"github.com/geovision/geovision-backend/internal/index"
	"github.com/geovision/geovision-backend/internal/logger"
	"github.com/geovision/geovision-backend/internal/models"
	"github.com/geovision/geovision-backend/internal/narrator"
)

// ErrUnknownTask is returned when polling an id that was never issued or has
// been evicted.
var ErrUnknownTask = errors.New("unknown task")

// Fetcher obtains one raster per (area, date, type). Satisfied by
// imagery.Client and by test doubles.
type Fetcher interface {
	Fetch(ctx context.Context, bbox models.BoundingBox, date string, typ models.AnalysisType) (*models.RasterImage, error)
}

// Narrator produces the optional change description. Satisfied by
// narrator.Gemini and by test doubles.
type Narrator interface {
	Narrate(ctx context.Context, in narrator.Input) (string, error)
}

// AnalysisService is the task orchestrator.
type AnalysisService struct {
	norm     *geometry.Normalizer
	fetcher  Fetcher
	narrator Narrator
	cache    cache.Store
	tasks    *TaskStore
	flight   singleflight.Group
	log      *slog.Logger
}

// New wires the orchestrator. All collaborators are injected so tests can
// substitute fakes and no package-level state exists.
func New(norm *geometry.Normalizer, fetcher Fetcher, narr Narrator, store cache.Store, tasks *TaskStore) *AnalysisService {
	return &AnalysisService{
		norm:     norm,
		fetcher:  fetcher,
		narrator: narr,
		cache:    store,
		tasks:    tasks,
		log:      logger.L(),
	}
}

// Submit validates the request and returns a task id without blocking on the
// pipeline. A cache hit still creates a task, already completed, so clients
// poll the same way either way.
func (s *AnalysisService) Submit(req *models.AnalysisRequest) (string, error) {
	key, err := s.norm.Normalize(req)
	if err != nil {
		return "", err
	}

	if res, ok := s.cache.Get(context.Background(), key); ok {
		s.log.Debug("cache hit on submit", "key", key)
		return s.tasks.CreateCompleted(res), nil
	}

	id := s.tasks.Create()
	go s.run(id, key, *req)
	return id, nil
}

// Poll returns a snapshot of the task state.
func (s *AnalysisService) Poll(id string) (models.Task, error) {
	t, ok := s.tasks.Get(id)
	if !ok {
		return models.Task{}, ErrUnknownTask
	}
	return t, nil
}

// Analyze runs the same gated pipeline synchronously, for the legacy
// blocking endpoint. The second return value reports whether the result came
// from the cache.
func (s *AnalysisService) Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, bool, error) {
	key, err := s.norm.Normalize(req)
	if err != nil {
		return nil, false, err
	}
	if res, ok := s.cache.Get(ctx, key); ok {
		return res, true, nil
	}
	res, err := s.compute(key, *req)
	if err != nil {
		return nil, false, err
	}
	return res, false, nil
}

func (s *AnalysisService) run(taskID, key string, req models.AnalysisRequest) {
	res, err := s.compute(key, req)
	if err != nil {
		s.log.Warn("analysis task failed", "task", taskID, "err", err)
		s.tasks.Fail(taskID, failureMessage(err))
		return
	}
	s.tasks.Complete(taskID, res)
	s.log.Info("analysis task completed", "task", taskID)
}

// compute funnels all work for one key through a single flight, so
// concurrent submissions of the same request share one pipeline run and one
// pair of provider calls. A failed run publishes nothing to the cache, so a
// later identical request recomputes instead of caching the failure.
func (s *AnalysisService) compute(key string, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	v, err, _ := s.flight.Do(key, func() (any, error) {
		ctx := context.Background()
		// A flight that started after an earlier one published can serve
		// straight from the cache.
		if res, ok := s.cache.Get(ctx, key); ok {
			return res, nil
		}
		res, err := s.runPipeline(ctx, req)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.AnalysisResult), nil
}

func (s *AnalysisService) runPipeline(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	var rasterFrom, rasterTo *models.RasterImage

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.fetcher.Fetch(gctx, req.BBox, req.FromDate, req.AnalysisType)
		if err != nil {
			return fmt.Errorf("imagery for %s: %w", req.FromDate, err)
		}
		rasterFrom = r
		return nil
	})
	// Identical dates mean one (bbox, date, type) triple; fetch it once.
	if req.ToDate != req.FromDate {
		g.Go(func() error {
			r, err := s.fetcher.Fetch(gctx, req.BBox, req.ToDate, req.AnalysisType)
			if err != nil {
				return fmt.Errorf("imagery for %s: %w", req.ToDate, err)
			}
			rasterTo = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fromSummary, err := index.Compute(rasterFrom, req.AnalysisType)
	if err != nil {
		return nil, fmt.Errorf("index for %s: %w", req.FromDate, err)
	}
	toSummary := fromSummary
	if rasterTo != nil {
		toSummary, err = index.Compute(rasterTo, req.AnalysisType)
		if err != nil {
			return nil, fmt.Errorf("index for %s: %w", req.ToDate, err)
		}
	}

	change := 0.0
	if math.Abs(fromSummary.Mean) > 1e-6 {
		change = (toSummary.Mean - fromSummary.Mean) / math.Abs(fromSummary.Mean) * 100
	}

	res := &models.AnalysisResult{
		AnalysisType:     strings.ToUpper(string(req.AnalysisType)),
		FromDateStr:      req.FromDate,
		ToDateStr:        req.ToDate,
		MeanIndexFrom:    round(fromSummary.Mean, 4),
		MeanIndexTo:      round(toSummary.Mean, 4),
		ChangePercentage: round(change, 2),
		ImageFrom:        fromSummary.RenderedImage,
		ImageTo:          toSummary.RenderedImage,
	}

	text, err := s.narrator.Narrate(ctx, narrator.Input{
		AnalysisType:     req.AnalysisType,
		FromDate:         req.FromDate,
		ToDate:           req.ToDate,
		MeanFrom:         res.MeanIndexFrom,
		MeanTo:           res.MeanIndexTo,
		ChangePercentage: res.ChangePercentage,
		ImageFrom:        res.ImageFrom,
		ImageTo:          res.ImageTo,
	})
	if err != nil {
		// Best-effort stage: the numeric result still completes the task.
		s.log.Warn("narration skipped", "err", err)
	} else {
		res.Narration = text
	}

	return res, nil
}

func failureMessage(err error) string {
	if errors.Is(err, imagery.ErrNoImagery) {
		return err.Error() + "; try a different date or a wider search window"
	}
	if errors.Is(err, index.ErrInsufficientValidPixels) {
		return err.Error() + "; clouds may cover the whole area on that date"
	}
	return err.Error()
}

func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
