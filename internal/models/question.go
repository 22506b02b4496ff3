package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// QuestionScope selects which question library a catalog query targets
type QuestionScope string

const (
	ScopeOrganization QuestionScope = "organization"
	ScopeGlobal       QuestionScope = "global"
)

// Valid reports whether the scope is known
func (s QuestionScope) Valid() bool {
	return s == ScopeOrganization || s == ScopeGlobal
}

// QuestionRef is a lightweight handle on a question; content is not carried
type QuestionRef struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"category_id"`
	TypeCode   string    `json:"type_code"`
	Title      string    `json:"title,omitempty"`
	TimeLimit  TimeLimit `json:"time_limit"`
	Score      float64   `json:"score"`
}

// TimeLimit is a question time limit in whole minutes.
// Absent, null or non-numeric wire values decode to zero.
type TimeLimit int

// UnmarshalJSON accepts numbers, numeric strings and null
func (t *TimeLimit) UnmarshalJSON(data []byte) error {
	*t = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
	} else {
		raw = string(data)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < 0 {
		return nil
	}
	*t = TimeLimit(int(f))
	return nil
}

// Minutes returns the limit as an int
func (t TimeLimit) Minutes() int { return int(t) }

// QuestionGroups holds section questions grouped by question-type code
type QuestionGroups map[string][]QuestionRef

// Clone returns a deep copy
func (g QuestionGroups) Clone() QuestionGroups {
	if g == nil {
		return nil
	}
	out := make(QuestionGroups, len(g))
	for k, v := range g {
		out[k] = append([]QuestionRef(nil), v...)
	}
	return out
}

// All flattens the groups in a deterministic (type code, then id) order
func (g QuestionGroups) All() []QuestionRef {
	codes := make([]string, 0, len(g))
	for code := range g {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []QuestionRef
	for _, code := range codes {
		qs := append([]QuestionRef(nil), g[code]...)
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
		out = append(out, qs...)
	}
	return out
}

// Count returns the number of questions across all groups
func (g QuestionGroups) Count() int {
	n := 0
	for _, qs := range g {
		n += len(qs)
	}
	return n
}

// TotalScore sums question scores across all groups
func (g QuestionGroups) TotalScore() float64 {
	total := 0.0
	for _, qs := range g {
		for _, q := range qs {
			total += q.Score
		}
	}
	return total
}

// Contains reports whether a question id is present in any group
func (g QuestionGroups) Contains(questionID string) bool {
	for _, qs := range g {
		for _, q := range qs {
			if q.ID == questionID {
				return true
			}
		}
	}
	return false
}

// GroupByType builds QuestionGroups from a flat list
func GroupByType(questions []QuestionRef) QuestionGroups {
	out := make(QuestionGroups)
	for _, q := range questions {
		out[q.TypeCode] = append(out[q.TypeCode], q)
	}
	return out
}

// QuestionQuery describes a scoped catalog query
type QuestionQuery struct {
	Scope      QuestionScope
	Limit      int
	Offset     int
	CategoryID string
	TypeCode   string
	Search     string
}
