package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/ratings"
	"github.com/miradorstack/mirador-forecast/internal/repo"
	"github.com/miradorstack/mirador-forecast/internal/scoring"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	predictions []models.Prediction
	stats       models.LeaderboardStats
	lastFilter  models.ListFilter
	created     []models.PredictionCreate
	resolveErr  error
	listErr     error
	pingErr     error
}

func (f *fakeStore) CreatePrediction(_ context.Context, in models.PredictionCreate) (models.Prediction, error) {
	f.created = append(f.created, in)
	return models.Prediction{
		ID:         int64(len(f.created)),
		Statement:  in.Statement,
		Category:   in.Category,
		Confidence: in.Confidence,
		DueAt:      in.DueAt,
		Status:     models.StatusOpen,
	}, nil
}

func (f *fakeStore) ListPredictions(_ context.Context, filter models.ListFilter) ([]models.Prediction, error) {
	f.lastFilter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.predictions, nil
}

func (f *fakeStore) ResolvePrediction(_ context.Context, id int64, outcome int) (models.Prediction, error) {
	if f.resolveErr != nil {
		return models.Prediction{}, f.resolveErr
	}
	return models.Prediction{
		ID:         id,
		Confidence: 0.7,
		Status:     models.StatusResolved,
		Outcome:    null.IntFrom(int64(outcome)),
		DueAt:      models.NewTimestamp(now.Add(-time.Hour)),
	}, nil
}

func (f *fakeStore) FetchLeaderboard(context.Context) (models.LeaderboardStats, error) {
	return f.stats, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func newService(store PredictionStore) *ForecastService {
	return NewForecastService(nil, store, ratings.NewRegistry(nil), scoring.FixedClock(now))
}

func validCreate() models.PredictionCreate {
	return models.PredictionCreate{
		Statement:  "  It will rain tomorrow ",
		Category:   " Weather ",
		Confidence: 0.7,
		DueAt:      models.NewTimestamp(now.Add(24 * time.Hour)),
	}
}

func TestListPredictionsAnnotatesViews(t *testing.T) {
	store := &fakeStore{predictions: []models.Prediction{
		{ID: 1, Confidence: 0.7, Status: models.StatusOpen, DueAt: models.NewTimestamp(now.Add(-time.Hour))},
		{ID: 2, Confidence: 0.25, Status: models.StatusOpen, DueAt: models.NewTimestamp(now.Add(time.Hour))},
		{ID: 3, Confidence: 0.9, Status: models.StatusResolved, Outcome: null.IntFrom(1), DueAt: models.NewTimestamp(now.Add(-time.Hour))},
		{ID: 4, Confidence: 0.6, Status: models.StatusResolved, Outcome: null.IntFrom(0), BrierScore: null.FloatFrom(0.36)},
	}}
	svc := newService(store)

	views, err := svc.ListPredictions(context.Background(), "all", "All")
	require.NoError(t, err)
	require.Len(t, views, 4)
	assert.Equal(t, models.ListFilter{}, store.lastFilter)

	assert.Equal(t, "70%", views[0].ConfidenceLabel)
	assert.True(t, views[0].Overdue)
	require.NotNil(t, views[0].DaysUntilDue)
	assert.Equal(t, -1, *views[0].DaysUntilDue)
	assert.Nil(t, views[0].Rating)
	assert.False(t, views[1].Overdue)
	require.NotNil(t, views[1].DaysUntilDue)
	assert.Equal(t, 0, *views[1].DaysUntilDue)
	assert.Nil(t, views[2].DaysUntilDue)
	assert.Equal(t, "25%", views[1].ConfidenceLabel)

	assert.False(t, views[2].Overdue, "resolved predictions are never overdue")
	assert.InDelta(t, 0.01, views[2].BrierScore.Float64, 1e-9)
	require.NotNil(t, views[2].Rating)
	assert.Equal(t, "Excellent", views[2].Rating.Label)

	assert.Equal(t, 0.36, views[3].BrierScore.Float64)
	assert.Equal(t, "Poor", views[3].Rating.Label)
}

func TestListPredictionsRejectsUnknownStatus(t *testing.T) {
	svc := newService(&fakeStore{})
	_, err := svc.ListPredictions(context.Background(), "pending", "")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "Status must be 'open' or 'resolved'", utils.UserMessage(err, ""))
}

func TestListPredictionsForwardsFilter(t *testing.T) {
	store := &fakeStore{}
	svc := newService(store)
	views, err := svc.ListPredictions(context.Background(), "Resolved", " Sports ")
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Equal(t, models.ListFilter{Status: models.StatusResolved, Category: "Sports"}, store.lastFilter)
}

func TestCreatePredictionTrimsAndValidates(t *testing.T) {
	store := &fakeStore{}
	svc := newService(store)

	view, err := svc.CreatePrediction(context.Background(), validCreate())
	require.NoError(t, err)
	assert.Equal(t, "It will rain tomorrow", view.Statement)
	assert.Equal(t, "Weather", view.Category)
	assert.Equal(t, "70%", view.ConfidenceLabel)

	cases := map[string]func(*models.PredictionCreate){
		"Prediction statement is required":                     func(in *models.PredictionCreate) { in.Statement = "   " },
		"Category is required":                                 func(in *models.PredictionCreate) { in.Category = "" },
		"Prediction statement must be at most 1000 characters": func(in *models.PredictionCreate) { in.Statement = strings.Repeat("x", 1001) },
		"Category must be at most 100 characters":              func(in *models.PredictionCreate) { in.Category = strings.Repeat("c", 101) },
		"Confidence must be between 1% and 99%":                func(in *models.PredictionCreate) { in.Confidence = 1 },
		"Due date is required":                                 func(in *models.PredictionCreate) { in.DueAt = models.Timestamp{} },
	}
	for want, mutate := range cases {
		in := validCreate()
		mutate(&in)
		_, err := svc.CreatePrediction(context.Background(), in)
		require.ErrorIs(t, err, ErrInvalidInput, want)
		assert.Equal(t, want, utils.UserMessage(err, ""))
	}
	assert.Len(t, store.created, 1, "invalid input must not reach the store")
}

func TestResolvePredictionScoresAndRates(t *testing.T) {
	svc := newService(&fakeStore{})
	view, err := svc.ResolvePrediction(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.09, view.BrierScore.Float64, 1e-9)
	require.NotNil(t, view.Rating)
	assert.Equal(t, "Excellent", view.Rating.Label)
	assert.False(t, view.Overdue)
}

func TestResolvePredictionErrors(t *testing.T) {
	ctx := context.Background()

	_, err := newService(&fakeStore{}).ResolvePrediction(ctx, 0, 1)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = newService(&fakeStore{}).ResolvePrediction(ctx, 1, 2)
	require.ErrorIs(t, err, ErrInvalidInput)

	notFound := &fakeStore{resolveErr: &repo.APIError{StatusCode: 404, Detail: "Prediction not found"}}
	_, err = newService(notFound).ResolvePrediction(ctx, 99, 1)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Prediction not found", utils.UserMessage(err, ""))

	conflict := &fakeStore{resolveErr: &repo.APIError{StatusCode: 422, Detail: "Prediction already resolved"}}
	_, err = newService(conflict).ResolvePrediction(ctx, 1, 0)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "Prediction already resolved", utils.UserMessage(err, ""))

	down := &fakeStore{resolveErr: repo.ErrUpstreamUnavailable}
	_, err = newService(down).ResolvePrediction(ctx, 1, 0)
	require.ErrorIs(t, err, repo.ErrUpstreamUnavailable)
}

func TestLeaderboardLabels(t *testing.T) {
	store := &fakeStore{stats: models.LeaderboardStats{
		TotalPredictions:    4,
		ResolvedPredictions: 3,
		AverageBrierScore:   null.FloatFrom(0.15),
		AccuracyRate:        null.FloatFrom(2.0 / 3.0),
		Categories:          map[string]int{"Weather": 2, "Sports": 1, "Markets": 1},
	}}
	board, err := newService(store).Leaderboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Expert", board.Rating.Label)
	assert.Equal(t, "Good work! Try to be more confident in obvious outcomes.", board.Tip)
	assert.Equal(t, 0.75, board.ResolutionProgress)
	assert.Equal(t, "0.150", board.AverageBrierLabel)
	assert.Equal(t, "66.7%", board.AccuracyLabel)
	assert.Equal(t, []string{"Markets", "Sports", "Weather"}, board.CategoryNames)
}

func TestLeaderboardWithoutResolutions(t *testing.T) {
	board, err := newService(&fakeStore{}).Leaderboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No data", board.Rating.Label)
	assert.Equal(t, "Resolve some predictions to see your Brier score!", board.Tip)
	assert.Equal(t, 0.0, board.ResolutionProgress)
	assert.Equal(t, "—", board.AverageBrierLabel)
	assert.Equal(t, "—", board.AccuracyLabel)
	assert.NotNil(t, board.Categories)
	assert.Empty(t, board.CategoryNames)
}

func TestDashboardCounters(t *testing.T) {
	store := &fakeStore{predictions: []models.Prediction{
		{ID: 1, Confidence: 0.7, Status: models.StatusOpen, DueAt: models.NewTimestamp(now.Add(-time.Hour))},
		{ID: 2, Confidence: 0.7, Status: models.StatusOpen, DueAt: models.NewTimestamp(now.Add(time.Hour))},
		{ID: 3, Confidence: 0.7, Status: models.StatusResolved, Outcome: null.IntFrom(1)},
	}}
	dash, err := newService(store).Dashboard(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, dash.Open)
	assert.Equal(t, 1, dash.Overdue)
	assert.Equal(t, 1, dash.Resolved)
	assert.Equal(t, now, dash.GeneratedAt)
	assert.Len(t, dash.Predictions, 3)
}

func TestCategoryInsights(t *testing.T) {
	store := &fakeStore{predictions: []models.Prediction{
		{Category: "Weather", Confidence: 0.9, Status: models.StatusResolved, Outcome: null.IntFrom(1)},
		{Category: "Sports", Confidence: 0.6, Status: models.StatusOpen},
	}}
	out, err := newService(store).CategoryInsights(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Weather", out[0].Category)
	assert.Equal(t, models.ListFilter{}, store.lastFilter)
}

func TestRatings(t *testing.T) {
	svc := newService(&fakeStore{})
	view, err := svc.Ratings("Leaderboard")
	require.NoError(t, err)
	assert.Equal(t, ratings.SchemeLeaderboard, view.Name)
	assert.Len(t, view.Tiers, 3)

	_, err = svc.Ratings("unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnavailableStoreMessage(t *testing.T) {
	svc := newService(&fakeStore{listErr: errors.Join(repo.ErrUpstreamUnavailable, errors.New("dial tcp"))})
	_, err := svc.ListPredictions(context.Background(), "", "")
	require.ErrorIs(t, err, repo.ErrUpstreamUnavailable)
	assert.Equal(t, "Network error or server unavailable", utils.UserMessage(err, ""))

	var unconfigured *ForecastService
	require.ErrorIs(t, unconfigured.Ping(context.Background()), repo.ErrUpstreamUnavailable)
}

func TestLatencyLogKeepsCadencePastTrackerWindow(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, "info", false)
	svc := NewForecastService(logger, &fakeStore{}, ratings.NewRegistry(logger), scoring.FixedClock(now))

	ctx := context.Background()
	for i := 0; i < 1100; i++ {
		_, err := svc.ListPredictions(ctx, "", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1100/20, strings.Count(buf.String(), "prediction service latency"))

	for i := 0; i < 2000; i++ {
		_, err := svc.ListPredictions(ctx, "", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 3100/20, strings.Count(buf.String(), "prediction service latency"))
}

func TestRatingSchemes(t *testing.T) {
	names := newService(&fakeStore{}).RatingSchemes()
	assert.Equal(t, []string{ratings.SchemeCanonical, ratings.SchemeCompact, ratings.SchemeLeaderboard, ratings.SchemeTips}, names)
}
