package utils

import (
	"strconv"
	"strings"
)

// RejectsQ reports whether the parameters of one Accept or Accept-Encoding
// entry carry a zero quality value ("q=0", "Q=0.000"). Unparseable values
// count as acceptance.
func RejectsQ(params []string) bool {
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil && q <= 0 {
			return true
		}
	}
	return false
}
