package history

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/telemetry"
)

// DefaultFetchLimit is how many entries the dashboard loads
const DefaultFetchLimit = 48

// Source is the key-ordered history log
type Source interface {
	LastN(ctx context.Context, n int) ([]telemetry.Entry, error)
}

// Sample is one history entry with its key read as epoch seconds
type Sample struct {
	Key         string
	Timestamp   int64
	Temperature float64
	Humidity    float64
	Gas         float64
}

// SampleCount selects the trailing N samples of a fetched buffer. It counts
// samples, not elapsed time; one sample per hour is only assumed.
type SampleCount int

const (
	Last6  SampleCount = 6
	Last8  SampleCount = 8
	Last24 SampleCount = 24

	DefaultWindow = Last24
)

// ParseSampleCount reads "6", "8" or "24"; empty selects DefaultWindow
func ParseSampleCount(s string) (SampleCount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultWindow, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New().WithData(ErrInvalidWindow, s)
	}
	c := SampleCount(n)
	if !c.Valid() {
		return 0, errors.New().WithData(ErrInvalidWindow, s)
	}
	return c, nil
}

func (c SampleCount) Valid() bool {
	return c == Last6 || c == Last8 || c == Last24
}

// Label is the selector text shown to users
func (c SampleCount) Label() string {
	return strconv.Itoa(int(c)) + " Jam"
}

// Row is a chart-ready sample
type Row struct {
	Time        string     `json:"time"`
	FullTime    *time.Time `json:"fullTime"`
	Temperature float64    `json:"temperature"`
	Humidity    float64    `json:"humidity"`
	Gas         float64    `json:"gas"`
}

// Aggregator fetches and windows the history log
type Aggregator struct {
	src Source
	loc *time.Location
	log logger.Logger
}

func NewAggregator(src Source, loc *time.Location, log logger.Logger) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{src: src, loc: loc, log: log}
}

// FetchWindow loads at most limit of the most recent samples, ascending by key
func (a *Aggregator) FetchWindow(ctx context.Context, limit int) ([]Sample, error) {
	entries, err := a.src.LastN(ctx, limit)
	if err != nil {
		a.log.Error().Err(err).Int("limit", limit).Msg("Failed to fetch history")
		return nil, errors.New().Wrap(ErrFetch, err)
	}

	samples := make([]Sample, 0, len(entries))
	for _, e := range entries {
		samples = append(samples, newSample(e))
	}
	// Store order is not trusted
	SortSamples(samples)

	a.log.Debug().Int("limit", limit).Int("samples", len(samples)).Msg("Fetched history window")
	return samples, nil
}

func newSample(e telemetry.Entry) Sample {
	s := Sample{
		Key:         e.Key,
		Temperature: e.Temperature,
		Humidity:    e.Humidity,
		Gas:         e.Gas,
	}
	if n, ok := telemetry.ParseKey(e.Key); ok {
		s.Timestamp = int64(n)
	}
	return s
}

// SortSamples orders samples ascending by key the way the history log does:
// numeric keys by value, then text keys. Equal keys keep their relative order.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return telemetry.KeyLess(samples[i].Key, samples[j].Key)
	})
}

// Tail returns the trailing n samples, or all of them when fewer exist
func Tail(samples []Sample, n SampleCount) []Sample {
	if int(n) >= len(samples) || n < 0 {
		return samples
	}
	return samples[len(samples)-int(n):]
}

// Slice takes the trailing n samples and normalizes them into rows
func (a *Aggregator) Slice(samples []Sample, n SampleCount) []Row {
	return Normalize(Tail(samples, n), a.loc)
}

// Normalize converts samples into rows with an HH.MM clock time in loc
func Normalize(samples []Sample, loc *time.Location) []Row {
	rows := make([]Row, 0, len(samples))
	for _, s := range samples {
		row := Row{
			Time:        "-",
			Temperature: s.Temperature,
			Humidity:    s.Humidity,
			Gas:         s.Gas,
		}
		if s.Timestamp != 0 {
			t := time.Unix(s.Timestamp, 0).In(loc)
			row.Time = ClockTime(t)
			row.FullTime = &t
		}
		rows = append(rows, row)
	}
	return rows
}

// ClockTime formats t as a 24-hour hour.minute clock, id-ID style
func ClockTime(t time.Time) string {
	return t.Format("15.04")
}
