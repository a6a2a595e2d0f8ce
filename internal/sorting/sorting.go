// Package sorting orders result rows by a column without touching the rows'
// backing storage.
package sorting

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/doc-extract/backend/internal/models"
)

// Direction is the sort direction of a column.
type Direction string

const (
	None Direction = "none"
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts asc, desc or none; anything else is none.
func ParseDirection(s string) Direction {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Asc:
		return Asc
	case Desc:
		return Desc
	default:
		return None
	}
}

// State is the column sort state a reviewer toggles by clicking headers.
type State struct {
	Column    string    `json:"column"`
	Direction Direction `json:"direction"`
}

// Click returns the state after a click on column: the same column cycles
// none, asc, desc, none; a different column starts at asc.
func (s State) Click(column string) State {
	if column != s.Column {
		return State{Column: column, Direction: Asc}
	}
	switch s.Direction {
	case Asc:
		return State{Column: column, Direction: Desc}
	case Desc:
		return State{Column: column, Direction: None}
	default:
		return State{Column: column, Direction: Asc}
	}
}

// Row is one display row: a record reference and its effective cell values.
type Row struct {
	Ref   models.RecordRef  `json:"ref"`
	Cells map[string]string `json:"cells"`
}

// Sorter compares cells numerically when both parse as numbers and with
// locale-aware collation otherwise. It is not safe for concurrent use.
type Sorter struct {
	collator *collate.Collator
}

// NewSorter creates a sorter for a BCP 47 locale; unparsable locales fall
// back to English.
func NewSorter(locale string) *Sorter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Sorter{collator: collate.New(tag, collate.Loose, collate.Numeric)}
}

// Sort returns rows ordered by column. Ties keep their input order and None
// returns the input order. The input slice is not modified.
func (s *Sorter) Sort(rows []Row, column string, dir Direction) []Row {
	out := slices.Clone(rows)
	if dir != Asc && dir != Desc || column == "" {
		return out
	}

	slices.SortStableFunc(out, func(a, b Row) int {
		c := s.Compare(a.Cells[column], b.Cells[column])
		if dir == Desc {
			return -c
		}
		return c
	})
	return out
}

// Compare orders two cell values.
func (s *Sorter) Compare(a, b string) int {
	if x, ok := parseNumber(a); ok {
		if y, ok := parseNumber(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}
	}
	return s.collator.CompareString(a, b)
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
