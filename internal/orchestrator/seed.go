package orchestrator

import (
	"net/url"
	"strconv"
)

// Seed is where a run starts. Paginated seeds follow next-page links;
// ranking pages are read as a single page.
type Seed struct {
	URL       string `json:"url"`
	Paginated bool   `json:"paginated"`
}

// Query holds the optional search filters.
type Query struct {
	Keyword    string `json:"keyword"`
	PriceMin   int    `json:"price_min,omitempty"`
	PriceMax   int    `json:"price_max,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	Sort       string `json:"sort,omitempty"`
}

// SearchSeed appends q to searchURL. Zero price bounds and empty strings
// are left out.
func SearchSeed(searchURL string, q Query) (Seed, error) {
	u, err := url.Parse(searchURL)
	if err != nil {
		return Seed{}, err
	}
	params := u.Query()
	params.Set("keyword", q.Keyword)
	if q.PriceMin > 0 {
		params.Set("price_min", strconv.Itoa(q.PriceMin))
	}
	if q.PriceMax > 0 {
		params.Set("price_max", strconv.Itoa(q.PriceMax))
	}
	if q.CategoryID != "" {
		params.Set("category_id", q.CategoryID)
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	u.RawQuery = params.Encode()
	return Seed{URL: u.String(), Paginated: true}, nil
}

func RankingSeed(rankingURL string) Seed {
	return Seed{URL: rankingURL}
}
