package utils

import "strconv"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// PaginationParams holds the take/skip window of a listing
type PaginationParams struct {
	Limit  int
	Offset int
}

// GetPaginationParams parses limit and offset query values. Missing or
// malformed values fall back to the defaults; limit is capped.
func GetPaginationParams(limitStr, offsetStr string) PaginationParams {
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	offset, err := strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		offset = 0
	}

	return PaginationParams{Limit: limit, Offset: offset}
}
