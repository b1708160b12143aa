package boss

import (
	"fmt"
	"strconv"
	"strings"
)

// ChapterRange is an inclusive chapter span offered in the chapter menu.
type ChapterRange struct {
	Lo, Hi int
}

// ChapterRanges lists the spans offered to users, in menu order.
var ChapterRanges = []ChapterRange{
	{1, 3},
	{4, 6},
	{7, 9},
	{10, 12},
	{13, 15},
}

// Value is the range's menu value, e.g. "4-6".
func (r ChapterRange) Value() string {
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// Label is the range's menu label, e.g. "4-6章節".
func (r ChapterRange) Label() string {
	return r.Value() + "章節"
}

// ParseRange parses "lo-hi".
func ParseRange(s string) (ChapterRange, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q: want lo-hi", s)
	}
	l, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q: %w", s, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q: %w", s, err)
	}
	if l > h {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q: start after end", s)
	}
	return ChapterRange{Lo: l, Hi: h}, nil
}
