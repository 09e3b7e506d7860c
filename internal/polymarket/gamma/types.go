// Package gamma resolves Polymarket event links into selectable outcome tokens
// using the Gamma API.
package gamma

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Event is the subset of a Gamma event the grapher reads.
type Event struct {
	ID      flexString  `json:"id"`
	Slug    string      `json:"slug"`
	Title   string      `json:"title"`
	Markets []rawMarket `json:"markets"`
}

// rawMarket keeps outcomes and token ids loosely typed: Gamma sends them
// either as JSON arrays or as JSON-encoded strings holding an array.
type rawMarket struct {
	ID           flexString `json:"id"`
	Title        string     `json:"title"`
	Question     string     `json:"question"`
	Outcomes     listField  `json:"outcomes"`
	ClobTokenIds listField  `json:"clobTokenIds"`
	ClobTokenIDs listField  `json:"clobTokenIDs"`
}

// Market is a validated market: Outcomes[i] trades under TokenIDs[i].
type Market struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Outcomes []string `json:"outcomes"`
	TokenIDs []string `json:"token_ids"`
}

// Outcome pairs a display label with its CLOB token.
type Outcome struct {
	Label   string `json:"label"`
	TokenID string `json:"token_id"`
}

// Pairs returns the market's outcomes labelled "<title> (<outcome>)".
func (m Market) Pairs() []Outcome {
	out := make([]Outcome, len(m.Outcomes))
	for i, o := range m.Outcomes {
		out[i] = Outcome{Label: m.Title + " (" + o + ")", TokenID: m.TokenIDs[i]}
	}
	return out
}

// listField decodes a string list from either ["a","b"] or "[\"a\",\"b\"]".
// Anything else decodes to nil.
type listField []string

func (l *listField) UnmarshalJSON(b []byte) error {
	*l = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		b = []byte(s)
	}
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case float64, bool:
			raw, _ := json.Marshal(v)
			out = append(out, string(raw))
		default:
			return nil
		}
	}
	*l = out
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}
