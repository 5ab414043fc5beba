package canonicaljson

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/retrack/retrack/internal/model"
)

// Pretty re-indents canonical JSON for human- and diff-friendly line
// splitting.
func Pretty(canonical []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Diff computes a line-based longest-common-subsequence diff between the
// pretty-printed canonical JSON of two revisions' content, per spec.md §4.5.
// prev or next may be nil for "no prior revision."
func Diff(prev, next []byte) (model.Diff, error) {
	prevPretty, err := prettyOrEmpty(prev)
	if err != nil {
		return model.Diff{}, err
	}
	nextPretty, err := prettyOrEmpty(next)
	if err != nil {
		return model.Diff{}, err
	}
	a := splitLines(prevPretty)
	b := splitLines(nextPretty)
	return model.Diff{Lines: lcsDiff(a, b)}, nil
}

func prettyOrEmpty(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return Pretty(b)
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return strings.Split(string(b), "\n")
}

// lcsDiff computes the classic dynamic-programming longest-common-subsequence
// table and backtracks it into a sequence of equal/insert/delete line ops.
func lcsDiff(a, b []string) []model.DiffLine {
	n, m := len(a), len(b)
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				table[i][j] = table[i+1][j+1] + 1
			case table[i+1][j] >= table[i][j+1]:
				table[i][j] = table[i+1][j]
			default:
				table[i][j] = table[i][j+1]
			}
		}
	}

	var out []model.DiffLine
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			out = append(out, model.DiffLine{Op: model.DiffEqual, Text: a[i]})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			out = append(out, model.DiffLine{Op: model.DiffDelete, Text: a[i]})
			i++
		default:
			out = append(out, model.DiffLine{Op: model.DiffInsert, Text: b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, model.DiffLine{Op: model.DiffDelete, Text: a[i]})
	}
	for ; j < m; j++ {
		out = append(out, model.DiffLine{Op: model.DiffInsert, Text: b[j]})
	}
	return out
}
