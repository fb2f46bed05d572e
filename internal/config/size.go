package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	indexerrors "github.com/semindex/semindex/internal/errors"
)

var sizePattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*(B|KB|MB|GB|TB)?$`)

var sizeUnits = map[string]int64{
	"":   1,
	"B":  1,
	"KB": 1024,
	"MB": 1024 * 1024,
	"GB": 1024 * 1024 * 1024,
	"TB": 1024 * 1024 * 1024 * 1024,
}

// ParseSize converts a human-readable size string ("1MB", "500KB", "1.5GB")
// into a byte count, using binary (1024-based) multipliers. An empty string
// is not a valid size and returns a config error, same as any other
// unparseable input; callers that want a default should check for "" first.
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	matches := sizePattern.FindStringSubmatch(strings.ToUpper(trimmed))
	if matches == nil {
		return 0, indexerrors.ConfigError(fmt.Sprintf("invalid size %q: expected a number optionally followed by B/KB/MB/GB/TB", s), nil)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, indexerrors.ConfigError(fmt.Sprintf("invalid size %q", s), err)
	}

	unit := sizeUnits[matches[2]]
	return int64(value * float64(unit)), nil
}
