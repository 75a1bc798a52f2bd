package api

import (
	"time"

	"github.com/autoanalyse/carscout/internal/models"
)

// ListingResponse is the JSON shape of one listing.
type ListingResponse struct {
	ListingID         string    `json:"listing_id"`
	Make              string    `json:"make"`
	Model             string    `json:"model"`
	Title             string    `json:"title"`
	URL               string    `json:"url"`
	Price             *float64  `json:"price"`
	Mileage           *int64    `json:"mileage"`
	FuelType          string    `json:"fuel_type"`
	FirstRegistration string    `json:"first_registration"`
	Power             string    `json:"power"`
	Transmission      string    `json:"transmission"`
	SellerType        string    `json:"seller_type"`
	Location          string    `json:"location"`
	ScrapedAt         time.Time `json:"scraped_date"`
	IsActive          bool      `json:"is_active"`
}

// PriceChangeResponse is the JSON shape of one price-change event.
type PriceChangeResponse struct {
	ListingID          string    `json:"listing_id"`
	Make               string    `json:"make"`
	Model              string    `json:"model"`
	Title              string    `json:"title"`
	PriceOld           float64   `json:"price_old"`
	PriceNew           float64   `json:"price_new"`
	PriceDifference    float64   `json:"price_difference"`
	PriceChangePercent float64   `json:"price_change_percent"`
	ChangeType         string    `json:"change_type"`
	ChangedAt          time.Time `json:"change_date"`
	LastSeen           time.Time `json:"last_seen"`
}

// VehicleModelResponse identifies one tracked make/model pair.
type VehicleModelResponse struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

func toListingResponse(l models.Listing) ListingResponse {
	return ListingResponse{
		ListingID:         l.ListingID,
		Make:              l.Make,
		Model:             l.Model,
		Title:             l.Title,
		URL:               l.URL,
		Price:             l.Price,
		Mileage:           l.Mileage,
		FuelType:          l.FuelType,
		FirstRegistration: l.FirstRegistration,
		Power:             l.Power,
		Transmission:      l.Transmission,
		SellerType:        l.SellerType,
		Location:          l.Location,
		ScrapedAt:         l.ScrapedAt,
		IsActive:          l.IsActive,
	}
}

func toListingResponses(listings []models.Listing) []ListingResponse {
	out := make([]ListingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	return out
}

func toPriceChangeResponses(changes []models.PriceChange) []PriceChangeResponse {
	out := make([]PriceChangeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, PriceChangeResponse{
			ListingID:          c.ListingID,
			Make:               c.Make,
			Model:              c.Model,
			Title:              c.Title,
			PriceOld:           c.PriceOld,
			PriceNew:           c.PriceNew,
			PriceDifference:    c.PriceDifference,
			PriceChangePercent: c.PriceChangePercent,
			ChangeType:         string(c.ChangeType),
			ChangedAt:          c.ChangedAt,
			LastSeen:           c.LastSeen,
		})
	}
	return out
}
