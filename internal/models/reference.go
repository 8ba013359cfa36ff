package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Reference is an identifier as written by the completion service. The same
// integer may mean a 1-based position, a 0-based position or a stored id.
type Reference struct {
	raw string
}

func NewReference(raw string) Reference {
	return Reference{raw: strings.TrimSpace(raw)}
}

// IntReference builds a reference from a numeric position.
func IntReference(n int) Reference {
	return Reference{raw: strconv.Itoa(n)}
}

func (r Reference) IsZero() bool {
	return r.raw == ""
}

func (r Reference) String() string {
	return r.raw
}

// UnmarshalJSON accepts numbers, strings and null.
func (r *Reference) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		r.raw = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = NewReference(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = NewReference(n.String())
	return nil
}

func (r Reference) MarshalJSON() ([]byte, error) {
	if r.raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.raw)
}

// Resolve maps the reference onto ids, trying a 1-based position, then a
// 0-based position, then a literal id. accept may reject a candidate (for
// example an opinion that was already consumed); the next interpretation is
// tried in that case. A nil accept takes the first valid candidate.
func (r Reference) Resolve(ids []string, accept func(id string) bool) (string, bool) {
	if r.raw == "" || len(ids) == 0 {
		return "", false
	}
	ok := func(id string) bool {
		return accept == nil || accept(id)
	}

	raw := strings.TrimPrefix(r.raw, "#")
	if n, err := strconv.Atoi(raw); err == nil {
		if n >= 1 && n <= len(ids) && ok(ids[n-1]) {
			return ids[n-1], true
		}
		if n >= 0 && n < len(ids) && ok(ids[n]) {
			return ids[n], true
		}
	} else if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int(f)) {
		return IntReference(int(f)).Resolve(ids, accept)
	}

	for _, id := range ids {
		if id == r.raw && ok(id) {
			return id, true
		}
	}
	return "", false
}
