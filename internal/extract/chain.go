package extract

import (
	"fmt"
)

// ExtractSafely evaluates chain in order and returns the first non-empty
// value that differs from def. Selectors that fail are skipped; selectors
// after the first hit are never evaluated. With no hit it returns def.
func ExtractSafely(src Source, chain []string, mode Mode, def string) string {
	v, _ := extractSafely(src, chain, mode, def, nil)
	return v
}

func extractSafely(src Source, chain []string, mode Mode, def string, onErr func(expr string, err error)) (string, string) {
	for _, expr := range chain {
		v, err := selectOne(src, expr, mode)
		if err != nil {
			if onErr != nil {
				onErr(expr, err)
			}
			continue
		}
		if v != "" && v != def {
			return v, expr
		}
	}
	return def, ""
}

func selectOne(src Source, expr string, mode Mode) (v string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SelectorError{Selector: expr, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return src.Select(expr, mode)
}

func selectAll(src Source, expr string, mode Mode) (vs []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SelectorError{Selector: expr, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return src.SelectAll(expr, mode)
}
