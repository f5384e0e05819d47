package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

const itemURL = "https://jp.mercari.com/item/m98765432100"

func testConfig() Config {
	return Config{
		Selectors: SelectorSet{
			Name:            []string{`h1[data-testid="product-name"]`, `h1[class*="heading"]`, `h1`},
			Price:           []string{`div[data-testid="product-price"]`, `span[class*="price"]`},
			Image:           []string{`img[data-testid="product-image"]`, `img[alt*="商品画像"]`, `img`},
			ImageAttributes: []string{"src", "data-src"},
			Breadcrumb:      []string{`nav[aria-label="パンくずリスト"] a`, `nav[aria-label="breadcrumb"] a`},
			Category:        []string{`a[href*="/search/category"]`, `a[href*="/category/"]`},
			Details:         []string{`div[data-testid="item-detail-container"] div`},
			CategoryLabel:   "カテゴリ",
			Condition:       []string{`span[data-testid="商品の状態"]`, `.condition`},
			Seller:          []string{`a[data-testid="seller-link"] p`, `.seller-name`},
			Description:     []string{`pre[data-testid="description"]`, `.description`},
		},
		UnknownName:      "Unknown",
		PlaceholderImage: "https://static.mercdn.net/thumb/photos/m123456789_1.jpg",
		TrackingPatterns: []string{"bat.bing.com", "tracking", "pixel", "analytics"},
		CategoryStoplist: []string{"iwaki", "NIKE", "ブランド", "Brand", "出品者", "Seller"},
		SellerLabels:     []string{"出品者", "Seller"},
		SiteIDPatterns:   []string{`/item/([^/?]+)`, `/product/([^/?]+)`, `/shops/product/([^/?]+)`},
		DescriptionLimit: 200,
	}
}

func newTestExtractor(t *testing.T, cfg Config) *Extractor {
	t.Helper()
	e, err := NewExtractor(cfg, logger.Discard())
	require.NoError(t, err)
	return e
}

func extractHTML(t *testing.T, e *Extractor, html string) *models.ProductRecord {
	t.Helper()
	doc, err := e.Parse(html)
	require.NoError(t, err)
	return e.Extract(doc, itemURL)
}

func TestExtractor_FullListing(t *testing.T) {
	html := `<html><body>
		<img src="https://bat.bing.com/action/0?ti=123" width="1" height="1">
		<nav aria-label="パンくずリスト">
			<a href="/">ホーム</a>
			<a href="/search?category_id=1">レディース</a>
			<a href="/search?category_id=11">トップス</a>
		</nav>
		<h1 data-testid="product-name">  ニットカーディガン  </h1>
		<div data-testid="product-price"><span>¥</span><span>3,480</span></div>
		<img data-testid="product-image" src="/photos/m98765432100_1.jpg">
		<span data-testid="商品の状態">目立った傷や汚れなし</span>
		<a data-testid="seller-link"><p>出品者 hanako</p></a>
		<pre data-testid="description">` + strings.Repeat("説", 210) + `</pre>
	</body></html>`

	got := extractHTML(t, newTestExtractor(t, testConfig()), html)

	assert.Equal(t, itemURL, got.URL)
	assert.Equal(t, "m98765432100", got.SiteID)
	assert.Equal(t, "ニットカーディガン", got.Name)
	assert.Equal(t, 3480, got.Price)
	assert.Equal(t, "¥3,480", got.PriceText)
	assert.Equal(t, "https://jp.mercari.com/photos/m98765432100_1.jpg", got.ImageURL)
	assert.Equal(t, "レディース", got.Category)
	assert.Equal(t, "目立った傷や汚れなし", got.Condition)
	assert.Equal(t, "hanako", got.SellerName)
	assert.Equal(t, strings.Repeat("説", 200)+"...", got.Description)
	assert.Empty(t, got.Brand)
}

func TestExtractor_EmptyPageUsesDefaults(t *testing.T) {
	got := extractHTML(t, newTestExtractor(t, testConfig()), `<html><body></body></html>`)

	assert.Equal(t, "Unknown", got.Name)
	assert.Equal(t, 0, got.Price)
	assert.Equal(t, "¥0", got.PriceText)
	assert.Equal(t, "https://static.mercdn.net/thumb/photos/m123456789_1.jpg", got.ImageURL)
	assert.Empty(t, got.Category)
	assert.Empty(t, got.SellerName)
	assert.Empty(t, got.Description)
}

func TestExtractor_CategoryFallbacks(t *testing.T) {
	e := newTestExtractor(t, testConfig())

	t.Run("category links when breadcrumb is all stoplisted", func(t *testing.T) {
		got := extractHTML(t, e, `<html><body>
			<nav aria-label="パンくずリスト"><a>NIKE</a></nav>
			<a href="/search/category/1">メンズ</a>
			<a href="/search/category/2">スニーカー</a>
		</body></html>`)
		assert.Equal(t, "スニーカー", got.Category)
	})

	t.Run("labelled detail row", func(t *testing.T) {
		got := extractHTML(t, e, `<html><body>
			<div data-testid="item-detail-container"><div>カテゴリ
				本・雑誌・漫画
			</div></div>
		</body></html>`)
		assert.Equal(t, "本・雑誌・漫画", got.Category)
	})

	t.Run("stoplisted detail row discarded", func(t *testing.T) {
		got := extractHTML(t, e, `<html><body>
			<div data-testid="item-detail-container"><div>カテゴリ ブランド</div></div>
		</body></html>`)
		assert.Empty(t, got.Category)
	})
}

func TestExtractor_InvalidSelectorFallsThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Selectors.Name = []string{`h1[`, `h1`}

	got := extractHTML(t, newTestExtractor(t, cfg), `<html><body><h1>Camera</h1></body></html>`)

	assert.Equal(t, "Camera", got.Name)
}

func TestExtractor_BrandOnlyWhenConfigured(t *testing.T) {
	html := `<html><body><h1>Bag</h1><span data-testid="brand">COACH</span></body></html>`

	got := extractHTML(t, newTestExtractor(t, testConfig()), html)
	assert.Empty(t, got.Brand)

	cfg := testConfig()
	cfg.Selectors.Brand = []string{`span[data-testid="brand"]`, `.brand`}
	got = extractHTML(t, newTestExtractor(t, cfg), html)
	assert.Equal(t, "COACH", got.Brand)
}

func TestNewExtractor_BadSiteIDPattern(t *testing.T) {
	cfg := testConfig()
	cfg.SiteIDPatterns = []string{`/item/(`}

	_, err := NewExtractor(cfg, logger.Discard())
	assert.Error(t, err)
}

func TestExtractor_DefaultsWhenProfileOmitsLimits(t *testing.T) {
	cfg := testConfig()
	cfg.DescriptionLimit = 0
	e := newTestExtractor(t, cfg)

	got := extractHTML(t, e, `<html><body>
		<h1>Lamp</h1>
		<pre data-testid="description">`+strings.Repeat("a", 500)+`</pre>
	</body></html>`)

	assert.Equal(t, 200+len(TruncationMarker), len(got.Description))
	assert.Equal(t, DefaultZeroPriceText, got.PriceText)
}

func TestExtractor_ConfiguredPriceFormat(t *testing.T) {
	cfg := testConfig()
	cfg.CurrencyPrefix = "$"
	cfg.ZeroPriceText = "n/a"
	e := newTestExtractor(t, cfg)

	priced := extractHTML(t, e, `<html><body><h1>Lamp</h1><span class="price">1,200</span></body></html>`)
	assert.Equal(t, 1200, priced.Price)
	assert.Equal(t, "$1,200", priced.PriceText)

	unpriced := extractHTML(t, e, `<html><body><h1>Lamp</h1></body></html>`)
	assert.Equal(t, 0, unpriced.Price)
	assert.Equal(t, "n/a", unpriced.PriceText)
}
