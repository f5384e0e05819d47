package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maltedev/mercari-scraper/internal/extract"
	"github.com/maltedev/mercari-scraper/internal/models"
)

var (
	ErrMissingName  = errors.New("name is missing")
	ErrMissingPrice = errors.New("price is missing")
	ErrMissingURL   = errors.New("url is missing")
)

// ValidationError names the first field that made a record unusable.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validator rejects records still carrying extraction sentinels.
type Validator struct {
	UnknownName   string
	ZeroPriceText string
}

// New builds a validator for the given sentinels. An empty zeroPriceText
// falls back to the extractor's default.
func New(unknownName, zeroPriceText string) *Validator {
	if zeroPriceText == "" {
		zeroPriceText = extract.DefaultZeroPriceText
	}
	return &Validator{
		UnknownName:   unknownName,
		ZeroPriceText: zeroPriceText,
	}
}

func (v *Validator) Validate(r *models.ProductRecord) error {
	if r == nil {
		return &ValidationError{Field: "record", Err: errors.New("record is nil")}
	}

	name := strings.TrimSpace(r.Name)
	if name == "" || name == v.UnknownName {
		return &ValidationError{Field: "name", Value: r.Name, Err: ErrMissingName}
	}

	price := strings.TrimSpace(r.PriceText)
	if price == "" || price == v.ZeroPriceText {
		return &ValidationError{Field: "price_text", Value: r.PriceText, Err: ErrMissingPrice}
	}

	if strings.TrimSpace(r.URL) == "" {
		return &ValidationError{Field: "url", Err: ErrMissingURL}
	}

	return nil
}

func (v *Validator) IsValid(r *models.ProductRecord) bool {
	return v.Validate(r) == nil
}
