package models

import "time"

// Listing is the most recently observed state of one vehicle advertisement.
// Price and Mileage are pointers because the source page does not always
// expose them; a nil value means "not parseable", not zero.
type Listing struct {
	ListingID         string
	Make              string
	Model             string
	Title             string
	URL               string
	Price             *float64
	Mileage           *int64
	FuelType          string
	FirstRegistration string
	Power             string
	Transmission      string
	SellerType        string
	Location          string
	ScrapedAt         time.Time
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPrice reports whether the listing carries a usable numeric price.
func (l Listing) HasPrice() bool {
	return l.Price != nil
}

// BatchCompleteness tells the reconciler whether an empty batch means the
// site really has no listings or the pagination was aborted mid-way.
type BatchCompleteness int

const (
	// BatchConfirmed means the producer reached a final empty page or the
	// detected last page, so the batch is the full current inventory.
	BatchConfirmed BatchCompleteness = iota
	// BatchSuspect means pagination stopped on an anomaly; an empty or
	// short batch must not be trusted as "everything disappeared".
	BatchSuspect
)

func (c BatchCompleteness) String() string {
	if c == BatchSuspect {
		return "suspect"
	}
	return "confirmed"
}

// Batch is the full set of listings collected in one scrape run for one
// make/model pair.
type Batch struct {
	Make         string
	Model        string
	Listings     []Listing
	Completeness BatchCompleteness
	PagesScraped int
	ScrapedAt    time.Time
}
