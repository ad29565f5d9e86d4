package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/guregu/null/v5"

	"github.com/miradorstack/mirador-forecast/internal/insights"
	"github.com/miradorstack/mirador-forecast/internal/metrics"
	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/ratings"
	"github.com/miradorstack/mirador-forecast/internal/repo"
	"github.com/miradorstack/mirador-forecast/internal/scoring"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

const (
	maxStatementLength = 1000
	maxCategoryLength  = 100
	noValueLabel       = "—"
)

var (
	// ErrInvalidInput marks requests rejected before or by the prediction service.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks unknown predictions or rating schemes.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a resolve of an already resolved prediction.
	ErrConflict = errors.New("conflict")
)

// PredictionStore is the subset of the prediction service the gateway relies on.
type PredictionStore interface {
	CreatePrediction(ctx context.Context, in models.PredictionCreate) (models.Prediction, error)
	ListPredictions(ctx context.Context, filter models.ListFilter) ([]models.Prediction, error)
	ResolvePrediction(ctx context.Context, id int64, outcome int) (models.Prediction, error)
	FetchLeaderboard(ctx context.Context) (models.LeaderboardStats, error)
	Ping(ctx context.Context) error
}

// ForecastService annotates prediction service data for display.
type ForecastService struct {
	logger    *slog.Logger
	store     PredictionStore
	registry  *ratings.Registry
	clock     scoring.Clock
	miner     *insights.Miner
	latencies *utils.LatencyTracker
	calls     atomic.Uint64
}

// NewForecastService constructs the gateway service facade.
func NewForecastService(logger *slog.Logger, store PredictionStore, registry *ratings.Registry, clock scoring.Clock) *ForecastService {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = ratings.NewRegistry(logger)
	}
	if clock == nil {
		clock = scoring.SystemClock{}
	}
	return &ForecastService{
		logger:    logger,
		store:     store,
		registry:  registry,
		clock:     clock,
		miner:     insights.NewMiner(logger, registry.Default()),
		latencies: utils.NewLatencyTracker(1024),
	}
}

// ListPredictions returns predictions filtered by status ("", "all", "open",
// "resolved") and category ("" or "all" for every category).
func (s *ForecastService) ListPredictions(ctx context.Context, status, category string) ([]models.PredictionView, error) {
	const op = "list predictions"
	if err := s.ready(); err != nil {
		return nil, err
	}
	filter, err := parseFilter(status, category)
	if err != nil {
		return nil, utils.NewAppError(op, err.Error(), ErrInvalidInput)
	}

	start := time.Now()
	preds, err := s.store.ListPredictions(ctx, filter)
	s.track(start)
	if err != nil {
		return nil, s.translate(op, err)
	}

	compact := s.registry.MustGet(ratings.SchemeCompact)
	views := make([]models.PredictionView, 0, len(preds))
	for _, p := range preds {
		views = append(views, s.view(p, compact))
	}
	return views, nil
}

// CreatePrediction validates and records a new prediction.
func (s *ForecastService) CreatePrediction(ctx context.Context, in models.PredictionCreate) (models.PredictionView, error) {
	const op = "create prediction"
	if err := s.ready(); err != nil {
		return models.PredictionView{}, err
	}
	in.Statement = strings.TrimSpace(in.Statement)
	in.Category = strings.TrimSpace(in.Category)
	if msg := validateCreate(in); msg != "" {
		return models.PredictionView{}, utils.NewAppError(op, msg, ErrInvalidInput)
	}

	start := time.Now()
	created, err := s.store.CreatePrediction(ctx, in)
	s.track(start)
	if err != nil {
		return models.PredictionView{}, s.translate(op, err)
	}

	s.logger.Info("prediction created",
		slog.Int64("id", created.ID),
		slog.String("category", created.Category),
		slog.Float64("confidence", created.Confidence))
	return s.view(created, s.registry.MustGet(ratings.SchemeCompact)), nil
}

// ResolvePrediction records outcome for prediction id and returns it scored.
func (s *ForecastService) ResolvePrediction(ctx context.Context, id int64, outcome int) (models.PredictionView, error) {
	const op = "resolve prediction"
	if err := s.ready(); err != nil {
		return models.PredictionView{}, err
	}
	if id <= 0 {
		return models.PredictionView{}, utils.NewAppError(op, "Prediction id must be a positive integer", ErrInvalidInput)
	}
	if err := scoring.ValidateOutcome(outcome); err != nil {
		return models.PredictionView{}, utils.NewAppError(op, "Outcome must be 0 or 1", ErrInvalidInput)
	}

	start := time.Now()
	resolved, err := s.store.ResolvePrediction(ctx, id, outcome)
	s.track(start)
	if err != nil {
		switch {
		case repo.IsNotFound(err):
			return models.PredictionView{}, utils.NewAppError(op, "Prediction not found", fmt.Errorf("%w: %v", ErrNotFound, err))
		case repo.IsUnprocessable(err):
			return models.PredictionView{}, utils.NewAppError(op, upstreamDetail(err, "Prediction already resolved"), fmt.Errorf("%w: %v", ErrConflict, err))
		}
		return models.PredictionView{}, s.translate(op, err)
	}

	view := s.view(resolved, s.registry.Default())
	if view.BrierScore.Valid && view.Rating != nil {
		metrics.ObserveResolution(view.Rating.Label, view.BrierScore.Float64)
	}
	s.logger.Info("prediction resolved",
		slog.Int64("id", resolved.ID),
		slog.Int("outcome", outcome),
		slog.Float64("brier_score", view.BrierScore.Float64))
	return view, nil
}

// Leaderboard returns aggregate statistics with ratings and display labels.
func (s *ForecastService) Leaderboard(ctx context.Context) (models.LeaderboardView, error) {
	const op = "leaderboard"
	if err := s.ready(); err != nil {
		return models.LeaderboardView{}, err
	}

	start := time.Now()
	stats, err := s.store.FetchLeaderboard(ctx)
	s.track(start)
	if err != nil {
		return models.LeaderboardView{}, s.translate(op, err)
	}
	return s.leaderboardView(stats), nil
}

// Dashboard bundles a prediction listing with the leaderboard and counters.
func (s *ForecastService) Dashboard(ctx context.Context, status, category string) (models.Dashboard, error) {
	views, err := s.ListPredictions(ctx, status, category)
	if err != nil {
		return models.Dashboard{}, err
	}
	board, err := s.Leaderboard(ctx)
	if err != nil {
		return models.Dashboard{}, err
	}

	out := models.Dashboard{
		Predictions: views,
		Leaderboard: board,
		GeneratedAt: s.clock.Now().UTC(),
	}
	for _, v := range views {
		switch v.Status {
		case models.StatusOpen:
			out.Open++
			if v.Overdue {
				out.Overdue++
			}
		case models.StatusResolved:
			out.Resolved++
		}
	}
	return out, nil
}

// CategoryInsights mines per-category calibration from every prediction.
func (s *ForecastService) CategoryInsights(ctx context.Context) ([]models.CategoryCalibration, error) {
	const op = "category insights"
	if err := s.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	preds, err := s.store.ListPredictions(ctx, models.ListFilter{})
	s.track(start)
	if err != nil {
		return nil, s.translate(op, err)
	}
	return s.miner.Mine(preds), nil
}

// Ratings returns the threshold table of the named scheme.
func (s *ForecastService) Ratings(name string) (models.SchemeView, error) {
	scheme, ok := s.registry.Get(strings.ToLower(strings.TrimSpace(name)))
	if !ok {
		return models.SchemeView{}, utils.NewAppError("ratings", "Rating scheme not found", ErrNotFound)
	}
	return models.SchemeView{
		Name:     scheme.Name,
		Tiers:    scheme.Tiers,
		Fallback: scheme.Fallback,
		Empty:    scheme.Empty,
	}, nil
}

// RatingSchemes lists the names of every registered rating scheme.
func (s *ForecastService) RatingSchemes() []string {
	return s.registry.Names()
}

// Ping checks that the prediction service is reachable.
func (s *ForecastService) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.Ping(ctx)
}

// LatencyP95 returns the current p95 prediction service latency.
func (s *ForecastService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *ForecastService) ready() error {
	if s == nil || s.store == nil {
		return utils.NewAppError("forecast service", "Prediction service not configured", repo.ErrUpstreamUnavailable)
	}
	return nil
}

func (s *ForecastService) track(start time.Time) {
	s.latencies.Observe(time.Since(start))
	// the tracker window is bounded, so the cadence follows the call count
	if calls := s.calls.Add(1); calls%20 == 0 {
		s.logger.Info("prediction service latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", s.latencies.Count()),
			slog.Uint64("calls", calls))
	}
}

// translate maps store failures onto service errors. Upstream validation
// failures keep the upstream detail.
func (s *ForecastService) translate(op string, err error) error {
	switch {
	case repo.IsUnprocessable(err):
		return utils.NewAppError(op, upstreamDetail(err, "Invalid request"), fmt.Errorf("%w: %v", ErrInvalidInput, err))
	case repo.IsNotFound(err):
		return utils.NewAppError(op, upstreamDetail(err, "Not found"), fmt.Errorf("%w: %v", ErrNotFound, err))
	case errors.Is(err, repo.ErrUpstreamUnavailable):
		s.logger.Warn("prediction service unavailable", slog.String("operation", op), slog.Any("error", err))
		return utils.NewAppError(op, "Network error or server unavailable", err)
	}
	s.logger.Error("prediction service call failed", slog.String("operation", op), slog.Any("error", err))
	return fmt.Errorf("%s: %w", op, err)
}

func (s *ForecastService) view(p models.Prediction, scheme scoring.Scheme) models.PredictionView {
	v := models.PredictionView{
		Prediction:      p,
		ConfidenceLabel: scoring.FormatConfidence(p.Confidence),
		Overdue:         p.Status == models.StatusOpen && !p.DueAt.IsZero() && scoring.OverdueAt(s.clock, p.DueAt.Time),
	}
	if p.Status == models.StatusOpen && !p.DueAt.IsZero() {
		days := utils.DaysUntil(s.clock.Now(), p.DueAt.Time)
		v.DaysUntilDue = &days
	}
	if !p.Resolved() {
		return v
	}
	if !v.BrierScore.Valid {
		v.BrierScore = null.FloatFrom(scoring.BrierScore(p.Confidence, int(p.Outcome.Int64)))
	}
	rating := models.NewRating(scheme.Classify(v.BrierScore.Float64))
	v.Rating = &rating
	return v
}

func (s *ForecastService) leaderboardView(stats models.LeaderboardStats) models.LeaderboardView {
	if stats.Categories == nil {
		stats.Categories = map[string]int{}
	}
	avg, hasAvg := stats.AverageBrierScore.Float64, stats.AverageBrierScore.Valid

	v := models.LeaderboardView{
		LeaderboardStats:  stats,
		Rating:            models.NewRating(s.registry.MustGet(ratings.SchemeLeaderboard).ClassifyOptional(avg, hasAvg)),
		Tip:               s.registry.MustGet(ratings.SchemeTips).ClassifyOptional(avg, hasAvg).Description,
		AverageBrierLabel: noValueLabel,
		AccuracyLabel:     noValueLabel,
		CategoryNames:     make([]string, 0, len(stats.Categories)),
	}
	if stats.TotalPredictions > 0 {
		v.ResolutionProgress = float64(stats.ResolvedPredictions) / float64(stats.TotalPredictions)
	}
	if hasAvg {
		v.AverageBrierLabel = fmt.Sprintf("%.3f", avg)
	}
	if stats.AccuracyRate.Valid {
		v.AccuracyLabel = fmt.Sprintf("%.1f%%", stats.AccuracyRate.Float64*100)
	}
	for name := range stats.Categories {
		v.CategoryNames = append(v.CategoryNames, name)
	}
	sort.Strings(v.CategoryNames)
	return v
}

func parseFilter(status, category string) (models.ListFilter, error) {
	st, err := models.ParseStatus(status)
	if err != nil {
		return models.ListFilter{}, err
	}
	category = strings.TrimSpace(category)
	if strings.EqualFold(category, "all") {
		category = ""
	}
	return models.ListFilter{Status: st, Category: category}, nil
}

func validateCreate(in models.PredictionCreate) string {
	switch {
	case in.Statement == "":
		return "Prediction statement is required"
	case utf8.RuneCountInString(in.Statement) > maxStatementLength:
		return fmt.Sprintf("Prediction statement must be at most %d characters", maxStatementLength)
	case in.Category == "":
		return "Category is required"
	case utf8.RuneCountInString(in.Category) > maxCategoryLength:
		return fmt.Sprintf("Category must be at most %d characters", maxCategoryLength)
	case in.DueAt.IsZero():
		return "Due date is required"
	}
	if err := scoring.ValidateConfidence(in.Confidence); err != nil {
		return "Confidence must be between 1% and 99%"
	}
	return ""
}

func upstreamDetail(err error, fallback string) string {
	var apiErr *repo.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}
