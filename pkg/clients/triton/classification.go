package triton

import (
	"fmt"
	"strconv"
	"strings"
)

// Class is one top-k classification entry, serialised by the server as
// "value:index" or "value:index:label".
type Class struct {
	Index int
	Value float64
	Label string
}

func ParseClassification(s string) (Class, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Class{}, fmt.Errorf("malformed classification %q", s)
	}
	value, err := strconv.ParseFloat(parts[0], 32)
	if err != nil {
		return Class{}, fmt.Errorf("malformed classification value in %q: %w", s, err)
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil || index < 0 {
		return Class{}, fmt.Errorf("malformed classification index in %q", s)
	}
	c := Class{Index: index, Value: value}
	if len(parts) == 3 {
		c.Label = parts[2]
	}
	return c, nil
}

// FormatClassification is the inverse of ParseClassification. Values are
// rendered as 32-bit floats, matching what servers emit.
func FormatClassification(c Class) string {
	s := strconv.FormatFloat(float64(float32(c.Value)), 'f', -1, 32) + ":" + strconv.Itoa(c.Index)
	if c.Label != "" {
		s += ":" + c.Label
	}
	return s
}
