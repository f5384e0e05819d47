package extract

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/maltedev/mercari-scraper/internal/models"
)

// SelectorSet holds one fallback chain per field.
type SelectorSet struct {
	Name            []string `yaml:"name" validate:"min=1"`
	Price           []string `yaml:"price" validate:"min=1"`
	Image           []string `yaml:"image" validate:"min=1"`
	ImageAttributes []string `yaml:"image_attributes" validate:"min=1"`
	Breadcrumb      []string `yaml:"breadcrumb"`
	Category        []string `yaml:"category"`
	Details         []string `yaml:"details"`
	CategoryLabel   string   `yaml:"category_label"`
	Condition       []string `yaml:"condition"`
	Seller          []string `yaml:"seller"`
	Description     []string `yaml:"description"`
	// Brand is deprecated and left empty unless configured.
	Brand []string `yaml:"brand"`
}

// Config is the data the extractor is driven by.
type Config struct {
	Selectors        SelectorSet `yaml:"selectors" validate:"required"`
	UnknownName      string      `yaml:"unknown_name" validate:"required"`
	PlaceholderImage string      `yaml:"placeholder_image" validate:"required,url"`
	TrackingPatterns []string    `yaml:"tracking_patterns"`
	CategoryStoplist []string    `yaml:"category_stoplist"`
	SellerLabels     []string    `yaml:"seller_labels"`
	SiteIDPatterns   []string    `yaml:"site_id_patterns"`
	// DescriptionLimit caps descriptions in runes; zero means the default 200.
	DescriptionLimit int    `yaml:"description_limit" validate:"gte=0"`
	CurrencyPrefix   string `yaml:"currency_prefix"`
	// ZeroPriceText marks a listing without a parseable price.
	ZeroPriceText string `yaml:"zero_price_text"`
}

// WithDefaults fills the limits and price sentinels a profile left out.
func (c Config) WithDefaults() Config {
	if c.DescriptionLimit == 0 {
		c.DescriptionLimit = DefaultDescriptionLimit
	}
	if c.CurrencyPrefix == "" {
		c.CurrencyPrefix = DefaultCurrencyPrefix
	}
	if c.ZeroPriceText == "" {
		c.ZeroPriceText = c.CurrencyPrefix + "0"
	}
	return c
}

func (c Config) priceFormat() PriceFormat {
	return PriceFormat{CurrencyPrefix: c.CurrencyPrefix, ZeroPriceText: c.ZeroPriceText}
}

// Extractor turns a rendered listing page into a ProductRecord.
type Extractor struct {
	cfg      Config
	compiler *Compiler
	siteID   []*regexp.Regexp
	logger   *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) (*Extractor, error) {
	cfg = cfg.WithDefaults()
	patterns, err := CompilePatterns(cfg.SiteIDPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile site id patterns: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:      cfg,
		compiler: NewCompiler(0),
		siteID:   patterns,
		logger:   logger.With("component", "extractor"),
	}, nil
}

// Parse builds a Document sharing the extractor's selector cache.
func (e *Extractor) Parse(html string) (*Document, error) {
	return NewDocument(html, e.compiler)
}

// Extract never fails: fields that cannot be found take their defaults.
func (e *Extractor) Extract(src Source, pageURL string) *models.ProductRecord {
	sel := e.cfg.Selectors
	base, _ := url.Parse(pageURL)

	rec := &models.ProductRecord{URL: pageURL}
	rec.SiteID = SiteID(pageURL, e.siteID)
	rec.Name = e.chain(src, "name", sel.Name, TextContent, e.cfg.UnknownName)
	rec.Price, rec.PriceText = e.cfg.priceFormat().Parse(e.chain(src, "price", sel.Price, TextContent, ""))
	rec.ImageURL = PickImage(e.images(src), base, e.cfg.TrackingPatterns, e.cfg.PlaceholderImage)
	rec.Category = e.category(src)
	rec.Condition = e.chain(src, "condition", sel.Condition, TextContent, "")
	rec.SellerName = CleanSeller(e.chain(src, "seller", sel.Seller, TextContent, ""), e.cfg.SellerLabels)
	rec.Description = TruncateDescription(e.chain(src, "description", sel.Description, TextContent, ""), e.cfg.DescriptionLimit)
	if len(sel.Brand) > 0 {
		rec.Brand = e.chain(src, "brand", sel.Brand, TextContent, "")
	}

	return rec
}

func (e *Extractor) chain(src Source, field string, chain []string, mode Mode, def string) string {
	v, matched := extractSafely(src, chain, mode, def, func(expr string, err error) {
		e.logger.Debug("selector failed", "field", field, "selector", expr, "error", err)
	})
	if matched == "" {
		e.logger.Debug("field not found, using default", "field", field, "default", def)
	}
	return v
}

func (e *Extractor) images(src Source) []string {
	mode := Attribute(e.cfg.Selectors.ImageAttributes...)
	var candidates []string
	for _, expr := range e.cfg.Selectors.Image {
		vs, err := selectAll(src, expr, mode)
		if err != nil {
			e.logger.Debug("selector failed", "field", "image", "selector", expr, "error", err)
			continue
		}
		candidates = append(candidates, vs...)
	}
	return candidates
}

// category tries the breadcrumb, then the category chain, then the labelled
// product detail row.
func (e *Extractor) category(src Source) string {
	sel := e.cfg.Selectors
	for _, chain := range [][]string{sel.Breadcrumb, sel.Category} {
		for _, expr := range chain {
			entries, err := selectAll(src, expr, TextContent)
			if err != nil {
				e.logger.Debug("selector failed", "field", "category", "selector", expr, "error", err)
				continue
			}
			if c := PickCategory(entries, e.cfg.CategoryStoplist); c != "" {
				return c
			}
		}
	}

	if sel.CategoryLabel == "" {
		return ""
	}
	for _, expr := range sel.Details {
		texts, err := selectAll(src, expr, TextContent)
		if err != nil {
			continue
		}
		for _, t := range texts {
			c := LabelledValue(t, sel.CategoryLabel)
			if c != "" && !IsStoplisted(c, e.cfg.CategoryStoplist) {
				return c
			}
		}
	}
	return ""
}
