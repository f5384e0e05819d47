package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maltedev/mercari-scraper/internal/extract"
)

//go:embed site.yaml
var defaultSite []byte

// Site is the marketplace-specific data the pipeline is driven by: entry
// points, link selectors and the extractor's selector chains and word lists.
type Site struct {
	BaseURL           string         `yaml:"base_url" validate:"required,url"`
	SearchPath        string         `yaml:"search_path" validate:"required"`
	RankingPath       string         `yaml:"ranking_path" validate:"required"`
	LinkSelectors     []string       `yaml:"link_selectors" validate:"min=1,dive,required"`
	NextPageSelectors []string       `yaml:"next_page_selectors" validate:"dive,required"`
	Extract           extract.Config `yaml:"extract"`
}

// DefaultSite returns the embedded site profile.
func DefaultSite() (*Site, error) {
	return ParseSite(defaultSite)
}

// LoadSite reads a site profile from path, or the embedded one when path is empty.
func LoadSite(path string) (*Site, error) {
	if path == "" {
		return DefaultSite()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site file: %w", err)
	}
	site, err := ParseSite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return site, nil
}

func ParseSite(data []byte) (*Site, error) {
	var site Site
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("failed to parse site profile: %w", err)
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}
	site.Extract = site.Extract.WithDefaults()
	return &site, nil
}

func (s *Site) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid site profile: %w", err)
	}
	return nil
}

// SearchURL is the search entry point without query parameters.
func (s *Site) SearchURL() string {
	return s.resolve(s.SearchPath)
}

func (s *Site) RankingURL() string {
	return s.resolve(s.RankingPath)
}

func (s *Site) resolve(path string) string {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return s.BaseURL + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return s.BaseURL + path
	}
	return base.ResolveReference(ref).String()
}
