package models

import (
	"time"
)

// ProductRecord is one marketplace listing keyed by its source URL.
type ProductRecord struct {
	URL string `json:"url"`
	ProductFields
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductFields holds the values that are overwritten on every upsert.
// Empty strings mean the field could not be extracted.
type ProductFields struct {
	SiteID      string `json:"site_id,omitempty"`
	Name        string `json:"name"`
	Price       int    `json:"price"`
	PriceText   string `json:"price_text"`
	ImageURL    string `json:"image_url"`
	Category    string `json:"category,omitempty"`
	Condition   string `json:"condition,omitempty"`
	SellerName  string `json:"seller_name,omitempty"`
	Description string `json:"description,omitempty"`

	// Deprecated: only populated when a brand selector chain is configured.
	Brand string `json:"brand,omitempty"`
}

// Key returns the natural key used for deduplication.
func (p *ProductRecord) Key() string {
	return p.URL
}
