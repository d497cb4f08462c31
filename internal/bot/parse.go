package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIDArg extracts a numeric alert ID from a command argument string.
// A leading '#' is accepted.
func ParseIDArg(args string) (int64, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, fmt.Errorf("alert ID is required")
	}
	s := strings.TrimPrefix(fields[0], "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid alert ID %q", fields[0])
	}
	return id, nil
}
