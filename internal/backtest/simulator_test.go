package backtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quantsim/internal/market"
	"quantsim/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	sim, err := NewSimulator(SimulatorConfig{
		Provider: market.NewSyntheticProvider(11),
		Strategy: func(profile string) ([]strategy.Strategy, float64, error) {
			switch profile {
			case "", "default":
				return strategy.Defaults(), 0, nil
			case "strict":
				return strategy.Defaults(), 0.7, nil
			}
			return nil, 0, fmt.Errorf("未知 profile: %s", profile)
		},
		Options:       DefaultOptions(),
		Symbols:       []string{"aaa", "BBB", "aaa"},
		Start:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	return sim
}

func TestSimulatorStartRunAndWait(t *testing.T) {
	sim := newTestSimulator(t)
	run, err := sim.StartRun(RunRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, []string{"AAA", "BBB"}, run.Config.Symbols)
	assert.Equal(t, "2024-01-01", run.Config.StartDate)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done, err := sim.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, done.Status)
	assert.True(t, done.Finished())
	assert.False(t, done.CompletedAt.IsZero())

	res, ok := sim.Result(run.ID)
	require.True(t, ok)
	assert.Equal(t, res.Metrics.FinalEquity, done.Stats.FinalEquity)
	assert.Equal(t, len(res.EquityCurve), done.Stats.TradingDays)

	got, ok := sim.Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, done.Status, got.Status)
	assert.Len(t, sim.List(), 1)
}

func TestSimulatorProfileThreshold(t *testing.T) {
	sim := newTestSimulator(t)
	run, err := sim.StartRun(RunRequest{Profile: "strict"})
	require.NoError(t, err)
	assert.Equal(t, 0.7, run.Config.SignalThreshold)

	override := 0.25
	run, err = sim.StartRun(RunRequest{Profile: "strict", SignalThreshold: &override})
	require.NoError(t, err)
	assert.Equal(t, 0.25, run.Config.SignalThreshold)
}

func TestSimulatorRejectsBadRequests(t *testing.T) {
	sim := newTestSimulator(t)
	_, err := sim.StartRun(RunRequest{Profile: "nope"})
	assert.Error(t, err)

	_, err = sim.StartRun(RunRequest{StartDate: "2024/01/01"})
	assert.Error(t, err)

	_, err = sim.StartRun(RunRequest{StartDate: "2024-06-01", EndDate: "2024-01-01"})
	assert.Error(t, err)

	bad := 2.0
	_, err = sim.StartRun(RunRequest{SignalThreshold: &bad})
	assert.Error(t, err)

	_, err = sim.Wait(context.Background(), "missing")
	assert.Error(t, err)
	assert.Empty(t, sim.List())
}

func TestSimulatorRunSyncAndSweep(t *testing.T) {
	sim := newTestSimulator(t)
	ctx := context.Background()

	run, res, err := sim.RunSync(ctx, RunRequest{Symbols: []string{"ccc"}, EndDate: "2024-06-30"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, RunStatusDone, run.Status)
	assert.Equal(t, []string{"CCC"}, run.Config.Symbols)

	points, err := sim.Sweep(ctx, RunRequest{}, []float64{0.8, 0.1}, 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 0.8, points[0].Threshold)
	assert.Equal(t, 0.1, points[1].Threshold)
}

func TestSweepKeepsThresholdOrder(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.5}}
	data := map[string]market.Series{"AAA": flat("AAA", 10, 100)}

	points, err := Sweep(context.Background(), zeroCostOptions(), []float64{0.9, 0.4, 0.6, 0.1}, agreeing(plan), data, 2)
	require.NoError(t, err)
	require.Len(t, points, 4)
	trades := make([]int, len(points))
	for i, p := range points {
		trades[i] = p.TotalTrades
	}
	assert.Equal(t, []int{0, 1, 0, 1}, trades)
	assert.Equal(t, 0.6, points[2].Threshold)

	_, err = Sweep(context.Background(), zeroCostOptions(), nil, agreeing(plan), data, 2)
	assert.Error(t, err)

}

func TestSweepRecordsFailedPoints(t *testing.T) {
	plan := map[string]map[int]float64{"AAA": {2: 0.5}}
	data := map[string]market.Series{"AAA": flat("AAA", 10, 100)}

	points, err := Sweep(context.Background(), zeroCostOptions(), []float64{0.2, 1.5, 0.4}, agreeing(plan), data, 2)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Empty(t, points[0].Error)
	assert.Equal(t, 1, points[0].TotalTrades)
	assert.Equal(t, 1.5, points[1].Threshold)
	assert.Contains(t, points[1].Error, "参数无效")
	assert.Empty(t, points[2].Error)
	assert.Equal(t, 1, points[2].TotalTrades)

	withBroken := append(agreeing(plan), needsColumn{})
	points, err = Sweep(context.Background(), zeroCostOptions(), []float64{0.2, 0.4}, withBroken, data, 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	for _, p := range points {
		assert.Contains(t, p.Error, "sma_999")
		assert.Zero(t, p.TotalTrades)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Sweep(ctx, zeroCostOptions(), []float64{0.2}, agreeing(plan), data, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulatorSetContextWhileRunning(t *testing.T) {
	sim := newTestSimulator(t)
	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sim.SetContext(context.Background())
		}()
		go func() {
			defer wg.Done()
			run, err := sim.StartRun(RunRequest{EndDate: "2024-03-31"})
			if err == nil {
				ids <- run.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n := 0
	for id := range ids {
		run, err := sim.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, RunStatusDone, run.Status)
		n++
	}
	assert.Equal(t, 4, n)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	sim.SetContext(cancelled)
	_, _, err := sim.RunSync(ctx, RunRequest{EndDate: "2024-03-31"})
	assert.Error(t, err)
}
