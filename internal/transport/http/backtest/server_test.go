package backtesthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quantsim/internal/backtest"
	"quantsim/internal/config"
	"quantsim/internal/config/loader"
	"quantsim/internal/logger"
	"quantsim/internal/market"
	"quantsim/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Silence()
}

type staticProfiles struct{ snap loader.ProfileSnapshot }

func (s staticProfiles) Snapshot() loader.ProfileSnapshot { return s.snap }

func newServer(t *testing.T, runsPerMinute int) *Server {
	t.Helper()
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Provider: market.NewSyntheticProvider(3),
		Strategy: func(string) ([]strategy.Strategy, float64, error) {
			return strategy.Defaults(), 0, nil
		},
		Options: backtest.DefaultOptions(),
		Symbols: []string{"AAA"},
		Start:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	profiles := staticProfiles{snap: loader.ProfileSnapshot{
		Version: 1,
		Profiles: map[string]loader.ProfileDefinition{
			"trend": {Name: "trend", Default: true, Strategies: []config.StrategyConfig{{Kind: "ma_crossover", Weight: 0.5}}},
		},
	}}
	srv, err := NewServer(Config{Simulator: sim, Profiles: profiles, RunsPerMinute: runsPerMinute})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRunLifecycle(t *testing.T) {
	srv := newServer(t, 0)

	rec := do(t, srv, http.MethodPost, "/api/backtest/runs?wait=true", `{"symbols":["aaa"],"end_date":"2024-06-30"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run backtest.Run
	require.NoError(t, json.Unmarshal(decode(t, rec)["run"], &run))
	assert.Equal(t, backtest.RunStatusDone, run.Status)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "metrics")

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+run.ID+"/equity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var equity []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec)["equity"], &equity))
	assert.Equal(t, run.Stats.TradingDays, len(equity))

	for _, path := range []string{"/trades", "/orders?status=filled", "/holdings"} {
		rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+run.ID+path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+run.ID+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "回测绩效报告")

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+run.ID+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []backtest.Run
	require.NoError(t, json.Unmarshal(decode(t, rec)["runs"], &runs))
	assert.Len(t, runs, 1)
}

func TestAsyncRunAccepted(t *testing.T) {
	srv := newServer(t, 0)
	rec := do(t, srv, http.MethodPost, "/api/backtest/runs", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var run backtest.Run
	require.NoError(t, json.Unmarshal(decode(t, rec)["run"], &run))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := srv.sim.Wait(ctx, run.ID)
	require.NoError(t, err)
}

func TestRunErrors(t *testing.T) {
	srv := newServer(t, 0)

	rec := do(t, srv, http.MethodPost, "/api/backtest/runs", `{"start_date":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/backtest/runs", `not-json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/missing/trades", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/backtest/data?symbol=AAA", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSweepEndpoint(t *testing.T) {
	srv := newServer(t, 0)
	rec := do(t, srv, http.MethodPost, "/api/backtest/sweeps", `{"thresholds":[0.2,0.6],"parallel":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var points []backtest.SweepPoint
	require.NoError(t, json.Unmarshal(decode(t, rec)["points"], &points))
	require.Len(t, points, 2)
	assert.Equal(t, 0.2, points[0].Threshold)

	rec = do(t, srv, http.MethodPost, "/api/backtest/sweeps", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfilesEndpoint(t *testing.T) {
	srv := newServer(t, 0)
	rec := do(t, srv, http.MethodGet, "/api/backtest/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var profiles []loader.ProfileDefinition
	require.NoError(t, json.Unmarshal(decode(t, rec)["profiles"], &profiles))
	require.Len(t, profiles, 1)
	assert.Equal(t, "trend", profiles[0].Name)
	assert.True(t, profiles[0].Default)
}

func TestManifestEndpoint(t *testing.T) {
	store, err := market.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	series := market.Series{Symbol: "AAA", Bars: []market.Bar{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1},
	}}
	_, err = store.InsertSeries(context.Background(), series)
	require.NoError(t, err)

	srv := newServer(t, 0)
	srv.manifests = store
	rec := do(t, srv, http.MethodGet, "/api/backtest/data?symbol=AAA", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var m market.Manifest
	require.NoError(t, json.Unmarshal(decode(t, rec)["manifest"], &m))
	assert.Equal(t, int64(1), m.Rows)

	rec = do(t, srv, http.MethodGet, "/api/backtest/data", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThrottle(t *testing.T) {
	srv := newServer(t, 1)
	first := do(t, srv, http.MethodPost, "/api/backtest/runs", `{"start_date":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, first.Code)
	second := do(t, srv, http.MethodPost, "/api/backtest/runs", `{"start_date":"bad"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newServer(t, 0)
	rec := do(t, srv, http.MethodPost, "/api/backtest/analyze", `{"symbol":"aaa","end_date":"2024-06-28"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var analysis backtest.Analysis
	require.NoError(t, json.Unmarshal(decode(t, rec)["analysis"], &analysis))
	assert.Equal(t, "AAA", analysis.Symbol)
	assert.Equal(t, "2024-06-28", analysis.Date)
	assert.Greater(t, analysis.LatestPrice, 0.0)
	assert.Len(t, analysis.Signals, len(strategy.Defaults()))
	assert.Contains(t, rec.Body.String(), `"signal_type"`)
	assert.Contains(t, rec.Body.String(), `"strategy_signals"`)

	rec = do(t, srv, http.MethodGet, "/api/backtest/analyze/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []backtest.Analysis
	require.NoError(t, json.Unmarshal(decode(t, rec)["history"], &history))
	require.Len(t, history, 1)
	assert.Equal(t, analysis.Strength, history[0].Strength)

	rec = do(t, srv, http.MethodGet, "/api/backtest/analyze/history?symbol=bbb", "")
	require.NoError(t, json.Unmarshal(decode(t, rec)["history"], &history))
	assert.Empty(t, history)

	for _, body := range []string{`{"symbol":" "}`, `{"symbol":"AAA","start_date":"x"}`, `{`} {
		rec = do(t, srv, http.MethodPost, "/api/backtest/analyze", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

type marketResponse struct {
	Symbol     string                `json:"symbol"`
	Count      int                   `json:"count"`
	Bars       []barView             `json:"bars"`
	Indicators map[string][]*float64 `json:"indicators"`
}

func TestMarketDataEndpoint(t *testing.T) {
	srv := newServer(t, 0)
	rec := do(t, srv, http.MethodGet, "/api/backtest/market/aaa?start_date=2024-03-01&end_date=2024-03-29", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp marketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAA", resp.Symbol)
	require.Equal(t, 21, resp.Count)
	require.Len(t, resp.Bars, 21)
	assert.Equal(t, "2024-03-01", resp.Bars[0].Date)
	assert.Equal(t, "2024-03-29", resp.Bars[20].Date)

	rsi := resp.Indicators["rsi"]
	require.Len(t, rsi, 21)
	assert.Nil(t, rsi[0], "预热期输出 null")
	require.NotNil(t, rsi[20])
	assert.InDelta(t, 50, *rsi[20], 50)
	assert.NotContains(t, resp.Indicators, "close")

	rec = do(t, srv, http.MethodGet, "/api/backtest/market/AAA?start_date=2024-03-01&end_date=2024-03-29&tail=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Count)
	assert.Equal(t, "2024-03-25", resp.Bars[0].Date)
	assert.Len(t, resp.Indicators["rsi"], 5)

	for _, path := range []string{
		"/api/backtest/market/AAA?tail=-1",
		"/api/backtest/market/AAA?start_date=2024/03/01",
		"/api/backtest/market/AAA?start_date=2024-03-29&end_date=2024-03-01",
	} {
		rec = do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
