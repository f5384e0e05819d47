package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	values    map[string]string
	errs      map[string]error
	panics    map[string]bool
	evaluated []string
}

func (s *scriptedSource) Select(expr string, _ Mode) (string, error) {
	s.evaluated = append(s.evaluated, expr)
	if s.panics[expr] {
		panic("bad node")
	}
	if err, ok := s.errs[expr]; ok {
		return "", err
	}
	return s.values[expr], nil
}

func (s *scriptedSource) SelectAll(expr string, mode Mode) ([]string, error) {
	v, err := s.Select(expr, mode)
	if v == "" {
		return nil, err
	}
	return []string{v}, err
}

func TestExtractSafely_SkipsErrorsAndStopsAtFirstHit(t *testing.T) {
	src := &scriptedSource{
		values: map[string]string{"B": "b-value", "C": "c-value"},
		errs:   map[string]error{"A": &SelectorError{Selector: "A", Err: errors.New("parse")}},
	}

	got := ExtractSafely(src, []string{"A", "B", "C"}, TextContent, "")

	assert.Equal(t, "b-value", got)
	assert.Equal(t, []string{"A", "B"}, src.evaluated)
}

func TestExtractSafely_SkipsValuesEqualToDefault(t *testing.T) {
	src := &scriptedSource{values: map[string]string{"A": "Unknown", "B": "Jacket"}}

	assert.Equal(t, "Jacket", ExtractSafely(src, []string{"A", "B"}, TextContent, "Unknown"))
}

func TestExtractSafely_RecoversPanics(t *testing.T) {
	src := &scriptedSource{
		values: map[string]string{"B": "ok"},
		panics: map[string]bool{"A": true},
	}

	assert.Equal(t, "ok", ExtractSafely(src, []string{"A", "B"}, TextContent, ""))
}

func TestExtractSafely_ReturnsDefault(t *testing.T) {
	tests := []struct {
		name  string
		chain []string
	}{
		{"empty chain", nil},
		{"no matches", []string{"A", "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{}
			assert.Equal(t, "Unknown", ExtractSafely(src, tt.chain, TextContent, "Unknown"))
		})
	}
}

func TestDocument_InvalidSelector(t *testing.T) {
	doc, err := NewDocument(`<html><body><h1>Title</h1></body></html>`, nil)
	require.NoError(t, err)

	_, err = doc.Select("h1[", TextContent)
	var selErr *SelectorError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, "h1[", selErr.Selector)

	got := ExtractSafely(doc, []string{"h1[", "h1"}, TextContent, "Unknown")
	assert.Equal(t, "Title", got)
}

func TestDocument_AttributeFallback(t *testing.T) {
	doc, err := NewDocument(`<html><body>
		<img class="a" data-src="/lazy.jpg">
		<img class="b" src="/eager.jpg" data-src="/ignored.jpg">
	</body></html>`, nil)
	require.NoError(t, err)

	vs, err := doc.SelectAll("img", Attribute("src", "data-src"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/lazy.jpg", "/eager.jpg"}, vs)
}

func TestCompiler_CachesResults(t *testing.T) {
	c := NewCompiler(4)

	s1, err := c.Compile(`a[href*="/item/"]`)
	require.NoError(t, err)
	s2, err := c.Compile(`a[href*="/item/"]`)
	require.NoError(t, err)

	assert.NotNil(t, s1)
	assert.NotNil(t, s2)
	assert.Equal(t, 1, c.cache.Len())

	_, err = c.Compile("p[class=")
	assert.Error(t, err)
	_, err = c.Compile("p[class=")
	assert.Error(t, err)
	assert.Equal(t, 2, c.cache.Len())
}
