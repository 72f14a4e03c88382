package plans

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Limit is a per-period cap on a capability. Unbounded means no cap.
type Limit int64

// Unbounded is the reserved "no cap" sentinel, distinct from zero
const Unbounded Limit = -1

const unboundedText = "unbounded"

// IsUnbounded reports whether l is the no-cap sentinel
func (l Limit) IsUnbounded() bool {
	return l == Unbounded
}

// Validate rejects negative values other than the sentinel
func (l Limit) Validate() error {
	if l < Unbounded {
		return fmt.Errorf("%w: limit %d is negative", ErrInvalidConfiguration, int64(l))
	}
	return nil
}

func (l Limit) String() string {
	if l.IsUnbounded() {
		return unboundedText
	}
	return strconv.FormatInt(int64(l), 10)
}

// ParseLimit accepts an integer or the word "unbounded"
func ParseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, unboundedText) {
		return Unbounded, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid limit %q", ErrInvalidConfiguration, s)
	}
	l := Limit(n)
	if err := l.Validate(); err != nil {
		return 0, err
	}
	return l, nil
}

// MarshalJSON encodes Unbounded as "unbounded" and anything else as a number
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnbounded() {
		return json.Marshal(unboundedText)
	}
	return json.Marshal(int64(l))
}

// UnmarshalJSON accepts a number or "unbounded"
func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseLimit(s)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: limit must be an integer or %q", ErrInvalidConfiguration, unboundedText)
	}
	parsed := Limit(n)
	if err := parsed.Validate(); err != nil {
		return err
	}
	*l = parsed
	return nil
}

// UnmarshalYAML accepts a number or "unbounded"
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: limit at line %d must be a scalar", ErrInvalidConfiguration, node.Line)
	}
	parsed, err := ParseLimit(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*l = parsed
	return nil
}

// Remaining returns how much of l is left after used, never below zero
func (l Limit) Remaining(used int64) Limit {
	if l.IsUnbounded() {
		return Unbounded
	}
	if rem := int64(l) - used; rem > 0 {
		return Limit(rem)
	}
	return 0
}
