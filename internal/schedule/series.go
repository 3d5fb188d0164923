package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Frequency is how often an appointment repeats.
type Frequency string

const (
	FrequencyOnce     Frequency = "puntual"
	FrequencyWeekly   Frequency = "semanal"
	FrequencyBiweekly Frequency = "quincenal"
)

// Horizon is how far ahead a recurring series is materialised.
type Horizon string

const (
	HorizonOneMonth  Horizon = "1 mes"
	HorizonSixMonths Horizon = "6 meses"
	HorizonOneYear   Horizon = "1 año"
)

var (
	ErrUnknownFrequency = errors.New("frequency must be one of puntual, semanal, quincenal")
	ErrUnknownHorizon   = errors.New("horizon must be one of \"1 mes\", \"6 meses\", \"1 año\"")
)

var occurrenceCounts = map[Frequency]map[Horizon]int{
	FrequencyWeekly: {
		HorizonOneMonth:  4,
		HorizonSixMonths: 26,
		HorizonOneYear:   52,
	},
	FrequencyBiweekly: {
		HorizonOneMonth:  2,
		HorizonSixMonths: 13,
		HorizonOneYear:   26,
	},
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyWeekly, FrequencyBiweekly:
		return true
	}
	return false
}

// Recurring reports whether f produces more than one occurrence.
func (f Frequency) Recurring() bool {
	return f == FrequencyWeekly || f == FrequencyBiweekly
}

// IntervalDays is the distance between consecutive occurrences, 0 for one-off.
func (f Frequency) IntervalDays() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 14
	}
	return 0
}

func (h Horizon) Valid() bool {
	switch h {
	case HorizonOneMonth, HorizonSixMonths, HorizonOneYear:
		return true
	}
	return false
}

// OccurrenceCount returns how many appointments a series of frequency f
// spans over horizon h. One-off bookings always count 1.
func OccurrenceCount(f Frequency, h Horizon) (int, error) {
	if !f.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFrequency, f)
	}
	if !f.Recurring() {
		return 1, nil
	}
	n, ok := occurrenceCounts[f][h]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownHorizon, h)
	}
	return n, nil
}

// Occurrence is one materialised date of a series.
type Occurrence struct {
	Index int
	Date  time.Time
	Score int
}

// ExpandSeries materialises every occurrence of a booking anchored on anchor.
// Only the first occurrence keeps score; later ones carry 0.
func ExpandSeries(anchor time.Time, f Frequency, h Horizon, score int) ([]Occurrence, error) {
	n, err := OccurrenceCount(f, h)
	if err != nil {
		return nil, err
	}

	dates := SeriesDates(anchor, f, n)
	out := make([]Occurrence, n)
	for i, d := range dates {
		out[i] = Occurrence{Index: i, Date: d}
	}
	out[0].Score = score
	return out, nil
}

// SeriesDates returns n dates starting at anchor, spaced by f's interval.
// It is also used to renumber an existing series after a frequency change.
func SeriesDates(anchor time.Time, f Frequency, n int) []time.Time {
	start := DateOf(anchor)
	step := f.IntervalDays()
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i*step)
	}
	return out
}
