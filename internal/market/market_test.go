package market

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSeriesValidate(t *testing.T) {
	ok := Series{Symbol: "AAA", Bars: []Bar{
		{Date: day("2024-01-02"), Close: 10},
		{Date: day("2024-01-03"), Close: 11},
	}}
	assert.NoError(t, ok.Validate())

	dup := Series{Symbol: "AAA", Bars: []Bar{
		{Date: day("2024-01-02"), Close: 10},
		{Date: day("2024-01-02"), Close: 11},
	}}
	assert.ErrorIs(t, dup.Validate(), ErrInvalidSeries)

	reversed := Series{Symbol: "AAA", Bars: []Bar{
		{Date: day("2024-01-03"), Close: 10},
		{Date: day("2024-01-02"), Close: 11},
	}}
	assert.ErrorIs(t, reversed.Validate(), ErrInvalidSeries)

	zero := Series{Symbol: "AAA", Bars: []Bar{{Date: day("2024-01-02"), Close: 0}}}
	assert.ErrorIs(t, zero.Validate(), ErrInvalidSeries)
}

func TestSeriesNormalizeAndBetween(t *testing.T) {
	s := Series{Symbol: "AAA", Bars: []Bar{
		{Date: day("2024-01-04"), Close: 4},
		{Date: day("2024-01-02"), Close: 2},
		{Date: day("2024-01-03"), Close: 3},
		{Date: day("2024-01-02"), Close: 22},
	}}
	n := s.Normalize()
	require.NoError(t, n.Validate())
	assert.Equal(t, []float64{22, 3, 4}, n.Closes())

	sub := n.Between(day("2024-01-03"), time.Time{})
	assert.Equal(t, []float64{3, 4}, sub.Closes())
	sub = n.Between(time.Time{}, day("2024-01-03"))
	assert.Equal(t, []float64{22, 3}, sub.Closes())
}

func TestReadCSV(t *testing.T) {
	input := strings.Join([]string{
		"Date,Close,Open,High,Low,Volume",
		"# comment",
		"2024-01-03,11,10.5,11.2,10.1,1200",
		"2024-01-02 00:00:00,10,9.8,10.3,9.5,1000",
	}, "\n")
	s, err := ReadCSV(strings.NewReader(input), "AAA")
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "2024-01-02", s.Bars[0].Key())
	assert.Equal(t, 9.8, s.Bars[0].Open)
	assert.Equal(t, 11.0, s.Bars[1].Close)
	assert.Equal(t, 1200.0, s.Bars[1].Volume)

	_, err = ReadCSV(strings.NewReader("date,close\n2024-01-02,1\n"), "AAA")
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("date,open,high,low,close\n2024-01-02,1,1,1,abc\n"), "AAA")
	assert.Error(t, err)
}

func TestCSVRoundTripThroughProvider(t *testing.T) {
	dir := t.TempDir()
	src, err := NewSyntheticProvider(7).History(context.Background(), "AAA", day("2024-01-01"), day("2024-02-29"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, src))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAA.csv"), buf.Bytes(), 0o644))

	p := NewCSVProvider(dir)
	got, err := p.History(context.Background(), "AAA", day("2024-02-01"), day("2024-02-29"))
	require.NoError(t, err)
	assert.Equal(t, src.Between(day("2024-02-01"), day("2024-02-29")).Closes(), got.Closes())

	_, err = p.History(context.Background(), "MISSING", time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestSyntheticProviderDeterministic(t *testing.T) {
	ctx := context.Background()
	p := NewSyntheticProvider(42)
	a, err := p.History(ctx, "AAA", day("2023-01-01"), day("2023-12-31"))
	require.NoError(t, err)
	b, err := p.History(ctx, "AAA", day("2023-01-01"), day("2023-12-31"))
	require.NoError(t, err)
	c, err := p.History(ctx, "BBB", day("2023-01-01"), day("2023-12-31"))
	require.NoError(t, err)

	require.NoError(t, a.Validate())
	assert.Equal(t, a.Bars, b.Bars)
	assert.NotEqual(t, a.Closes(), c.Closes())
	for _, bar := range a.Bars {
		wd := bar.Date.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
		assert.GreaterOrEqual(t, bar.High, bar.Low)
	}

	empty, err := p.History(ctx, "AAA", day("2023-12-31"), day("2023-01-01"))
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestStoreInsertAndHistory(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	src, err := NewSyntheticProvider(1).History(ctx, "AAA", day("2024-01-01"), day("2024-03-31"))
	require.NoError(t, err)
	n, err := store.InsertSeries(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, src.Len(), n)

	// 重复写入覆盖，不产生重复行
	_, err = store.InsertSeries(ctx, src)
	require.NoError(t, err)

	m, err := store.Manifest(ctx, "aaa")
	require.NoError(t, err)
	assert.Equal(t, int64(src.Len()), m.Rows)
	assert.Equal(t, src.Bars[0].Key(), m.MinDate)
	assert.Equal(t, src.Bars[src.Len()-1].Key(), m.MaxDate)

	got, err := store.History(ctx, "AAA", day("2024-02-01"), day("2024-02-29"))
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	want := src.Between(day("2024-02-01"), day("2024-02-29"))
	assert.Equal(t, want.Closes(), got.Closes())
	assert.Equal(t, want.Bars[0].Date, got.Bars[0].Date)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) History(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	args := m.Called(ctx, symbol, start, end)
	return args.Get(0).(Series), args.Error(1)
}

func TestLoadAll(t *testing.T) {
	start, end := day("2024-01-01"), day("2024-01-31")
	p := new(MockProvider)
	p.On("History", mock.Anything, "AAA", start, end).Return(Series{Symbol: "AAA", Bars: []Bar{{Date: day("2024-01-02"), Close: 1}}}, nil)
	p.On("History", mock.Anything, "BBB", start, end).Return(Series{Symbol: "BBB", Bars: []Bar{{Date: day("2024-01-02"), Close: 2}}}, nil)

	out, err := LoadAll(context.Background(), p, []string{"AAA", " BBB ", ""}, start, end)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 2.0, out["BBB"].Bars[0].Close)
	p.AssertExpectations(t)
}

func TestLoadAllPropagatesErrors(t *testing.T) {
	p := new(MockProvider)
	p.On("History", mock.Anything, "AAA", mock.Anything, mock.Anything).Return(Series{}, errors.New("boom"))
	_, err := LoadAll(context.Background(), p, []string{"AAA"}, time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "boom")

	bad := new(MockProvider)
	bad.On("History", mock.Anything, "AAA", mock.Anything, mock.Anything).Return(Series{Symbol: "AAA", Bars: []Bar{
		{Date: day("2024-01-03"), Close: 1},
		{Date: day("2024-01-02"), Close: 1},
	}}, nil)
	_, err = LoadAll(context.Background(), bad, []string{"AAA"}, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidSeries)
}

func TestStoreImportRecordsOrigin(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m, err := store.Manifest(ctx, "CCC")
	require.NoError(t, err)
	assert.Equal(t, "CCC", m.Symbol)
	assert.Zero(t, m.Rows)

	series := Series{Symbol: "CCC", Bars: []Bar{
		{Date: day("2024-01-02"), Open: 1, High: 1, Low: 1, Close: 1},
		{Date: day("2024-01-03"), Open: 2, High: 2, Low: 2, Close: 2},
	}}
	n, err := store.ImportSeries(ctx, series, "testdata/CCC.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m, err = store.Manifest(ctx, "ccc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Rows)
	assert.Equal(t, "testdata/CCC.csv", m.Meta["origin"])
	assert.Positive(t, m.LastSyncAt)
}
