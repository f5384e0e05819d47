package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Mode says what a selector match yields: its text, or the first non-empty
// of a list of attributes.
type Mode struct {
	Attributes []string
}

// TextContent extracts the trimmed text of a match.
var TextContent = Mode{}

// Attribute extracts the first non-empty attribute among names.
func Attribute(names ...string) Mode {
	return Mode{Attributes: names}
}

func (m Mode) String() string {
	if len(m.Attributes) == 0 {
		return "text"
	}
	return "attr:" + strings.Join(m.Attributes, "|")
}

// Source is anything a selector chain can be evaluated against.
type Source interface {
	// Select returns the value of the first match, "" if nothing matched.
	Select(expr string, mode Mode) (string, error)
	// SelectAll returns the non-empty values of every match in document order.
	SelectAll(expr string, mode Mode) ([]string, error)
}

// SelectorError reports a selector that could not be evaluated.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

type compiled struct {
	sel cascadia.Selector
	err error
}

// Compiler parses CSS selectors and memoises the result.
type Compiler struct {
	cache *lru.Cache[string, compiled]
}

func NewCompiler(size int) *Compiler {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, compiled](size)
	if err != nil {
		panic(err) // only fails for non-positive sizes
	}
	return &Compiler{cache: cache}
}

func (c *Compiler) Compile(expr string) (cascadia.Selector, error) {
	if hit, ok := c.cache.Get(expr); ok {
		return hit.sel, hit.err
	}
	sel, err := cascadia.Compile(expr)
	if err != nil {
		err = &SelectorError{Selector: expr, Err: err}
	}
	c.cache.Add(expr, compiled{sel: sel, err: err})
	return sel, err
}

// Document is a parsed HTML page.
type Document struct {
	doc      *goquery.Document
	compiler *Compiler
}

func NewDocument(html string, compiler *Compiler) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	if compiler == nil {
		compiler = NewCompiler(0)
	}
	return &Document{doc: doc, compiler: compiler}, nil
}

func (d *Document) find(expr string) (*goquery.Selection, error) {
	sel, err := d.compiler.Compile(expr)
	if err != nil {
		return nil, err
	}
	return d.doc.FindMatcher(sel), nil
}

func (d *Document) Select(expr string, mode Mode) (value string, err error) {
	defer recoverSelector(expr, &err)

	s, err := d.find(expr)
	if err != nil {
		return "", err
	}
	if s.Length() == 0 {
		return "", nil
	}
	return valueOf(s.First(), mode), nil
}

func (d *Document) SelectAll(expr string, mode Mode) (values []string, err error) {
	defer recoverSelector(expr, &err)

	s, err := d.find(expr)
	if err != nil {
		return nil, err
	}
	s.Each(func(_ int, el *goquery.Selection) {
		if v := valueOf(el, mode); v != "" {
			values = append(values, v)
		}
	})
	return values, nil
}

func valueOf(s *goquery.Selection, mode Mode) string {
	if len(mode.Attributes) == 0 {
		return strings.TrimSpace(s.Text())
	}
	for _, name := range mode.Attributes {
		if v, ok := s.Attr(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func recoverSelector(expr string, err *error) {
	if r := recover(); r != nil {
		*err = &SelectorError{Selector: expr, Err: fmt.Errorf("panic: %v", r)}
	}
}
