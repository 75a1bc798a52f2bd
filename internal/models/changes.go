package models

import (
	"fmt"
	"strings"
	"time"
)

// ChangeType classifies the direction of a detected price transition.
type ChangeType string

const (
	PriceDecreased ChangeType = "PRICE_DECREASED"
	PriceIncreased ChangeType = "PRICE_INCREASED"
)

// PriceChange is an immutable record of one observed price transition.
// Rows are only ever appended, never updated or deleted.
type PriceChange struct {
	ListingID          string
	Make               string
	Model              string
	Title              string
	PriceOld           float64
	PriceNew           float64
	PriceDifference    float64
	PriceChangePercent float64
	ChangeType         ChangeType
	ChangedAt          time.Time
	LastSeen           time.Time
}

// RunStatus is the outcome recorded for one reconciliation run.
type RunStatus string

const (
	StatusOK    RunStatus = "OK"
	StatusError RunStatus = "ERROR"
	StatusEmpty RunStatus = "EMPTY"
)

// RunMetadata summarizes the most recent reconciliation run for one
// make/model pair. It is overwritten on every run, not accumulated.
type RunMetadata struct {
	Make           string
	Model          string
	LastScrapeAt   time.Time
	TotalListings  int
	NewListings    int
	PriceChanges   int
	Status         RunStatus
	ErrorMessage   string
	ScraperVersion string
}

// RunSummary is the per-run classification result reported to the CLI,
// the log and the notifier. New, Unchanged, Decreased and Increased
// partition the batch; Reactivated is an overlay counter on top of that
// partition, since a returning listing is also classified by its price.
type RunSummary struct {
	Make        string
	Model       string
	New         int
	Reactivated int
	Unchanged   int
	Removed     int
	Decreased   int
	Increased   int
	Decreases   []PriceChange
}

// PriceChanged is the total number of emitted price-change events.
func (s RunSummary) PriceChanged() int {
	return s.Decreased + s.Increased
}

// AvgDecrease is the average magnitude of the run's price drops, zero when
// there were none.
func (s RunSummary) AvgDecrease() float64 {
	if len(s.Decreases) == 0 {
		return 0
	}
	var total float64
	for _, c := range s.Decreases {
		total += -c.PriceDifference
	}
	return total / float64(len(s.Decreases))
}

// String renders the summary for log and CLI output.
func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d new, %d unchanged, %d price changes (%d down / %d up), %d removed",
		s.Make, s.Model, s.New, s.Unchanged, s.PriceChanged(), s.Decreased, s.Increased, s.Removed)
	if s.Reactivated > 0 {
		fmt.Fprintf(&b, ", %d reactivated", s.Reactivated)
	}
	if s.Decreased > 0 {
		fmt.Fprintf(&b, ", avg drop %.0f", s.AvgDecrease())
	}
	return b.String()
}
