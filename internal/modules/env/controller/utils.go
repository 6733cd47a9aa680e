package controller

import (
	"fmt"
	"net/http"
	"strconv"

	"envmon/internal/modules/env/repository"
)

const defaultHistoryHours = 24

// parseHoursQuery validates the hours query parameter at the boundary:
// out-of-range or non-integer values are a caller error, never clamped.
func parseHoursQuery(r *http.Request) (int, error) {
	s := r.URL.Query().Get("hours")
	if s == "" {
		return defaultHistoryHours, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid 'hours' %q (expected integer)", s)
	}
	if n < repository.MinHistoryHours || n > repository.MaxHistoryHours {
		return 0, fmt.Errorf("'hours' must be between %d and %d",
			repository.MinHistoryHours, repository.MaxHistoryHours)
	}
	return n, nil
}
