package service

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseChartInput reads chart ids typed one per line or separated by commas
// or spaces. Blank entries are skipped; order is kept.
func ParseChartInput(text string) ([]int, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == ' ' || r == '\t'
	})

	ids := make([]int, 0, len(fields))
	for i, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, &ValidationError{Field: "chartIds", Reason: fmt.Sprintf("entry %d (%q) is not a chart id", i+1, f)}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
