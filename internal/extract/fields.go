package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultCurrencyPrefix = "¥"
	// DefaultZeroPriceText is the price text of a listing whose price could not be parsed.
	DefaultZeroPriceText    = DefaultCurrencyPrefix + "0"
	DefaultDescriptionLimit = 200
	// TruncationMarker is appended to descriptions that were cut.
	TruncationMarker = "..."
)

// PriceFormat is how parsed prices are rendered back to text.
type PriceFormat struct {
	CurrencyPrefix string
	// ZeroPriceText is returned when no price can be parsed.
	ZeroPriceText string
}

var defaultPriceFormat = PriceFormat{
	CurrencyPrefix: DefaultCurrencyPrefix,
	ZeroPriceText:  DefaultZeroPriceText,
}

// ParsePrice parses raw with the default yen format.
func ParsePrice(raw string) (int, string) {
	return defaultPriceFormat.Parse(raw)
}

// Parse keeps only digits and thousands separators from raw. Anything that
// does not parse yields (0, f.ZeroPriceText).
func (f PriceFormat) Parse(raw string) (int, string) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ",")

	digits := strings.ReplaceAll(cleaned, ",", "")
	if digits == "" {
		return 0, f.ZeroPriceText
	}
	price, err := strconv.Atoi(digits)
	if err != nil {
		return 0, f.ZeroPriceText
	}
	return price, f.CurrencyPrefix + cleaned
}

// PickImage returns the first candidate that is not a tracking URL, resolved
// against base. Without one it returns placeholder.
func PickImage(candidates []string, base *url.URL, tracking []string, placeholder string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || strings.HasPrefix(c, "data:") || isTracking(c, tracking) {
			continue
		}
		u, err := url.Parse(c)
		if err != nil {
			continue
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		return u.String()
	}
	return placeholder
}

func isTracking(raw string, tracking []string) bool {
	lower := strings.ToLower(raw)
	for _, t := range tracking {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// PickCategory drops stoplisted entries and returns the second remaining
// entry, or the only one. A stoplisted result is never returned.
func PickCategory(entries []string, stoplist []string) string {
	var kept []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" || IsStoplisted(e, stoplist) {
			continue
		}
		kept = append(kept, e)
	}

	switch {
	case len(kept) >= 2:
		return kept[1]
	case len(kept) == 1:
		return kept[0]
	}
	return ""
}

// IsStoplisted reports whether v contains any stoplist token, ignoring case.
func IsStoplisted(v string, stoplist []string) bool {
	lower := strings.ToLower(v)
	for _, token := range stoplist {
		if token != "" && strings.Contains(lower, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

// LabelledValue returns the first line of text following label.
func LabelledValue(text, label string) string {
	i := strings.Index(text, label)
	if label == "" || i < 0 {
		return ""
	}
	rest := strings.TrimLeft(text[i+len(label):], " :：\t")
	for _, line := range strings.Split(rest, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// CleanSeller strips display labels such as "出品者" from a seller name.
func CleanSeller(raw string, labels []string) string {
	for _, l := range labels {
		if l != "" {
			raw = strings.ReplaceAll(raw, l, "")
		}
	}
	return strings.Trim(raw, " :：\t\n")
}

// TruncateDescription cuts raw to limit runes and appends TruncationMarker.
func TruncateDescription(raw string, limit int) string {
	raw = strings.TrimSpace(raw)
	if limit <= 0 {
		return raw
	}
	runes := []rune(raw)
	if len(runes) <= limit {
		return raw
	}
	return string(runes[:limit]) + TruncationMarker
}

// SiteID returns the first capture group of the first pattern matching rawURL.
func SiteID(rawURL string, patterns []*regexp.Regexp) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, p := range patterns {
		if m := p.FindStringSubmatch(path); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
