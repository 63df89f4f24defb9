package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// PaginationParams represents pagination parameters
type PaginationParams struct {
	Page     int
	PageSize int
	Offset   int
}

// GetPaginationParams extracts pagination parameters from request
func GetPaginationParams(c echo.Context) PaginationParams {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("limit"))

	if page <= 0 {
		page = 1
	}

	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20 // Default page size
	}

	offset := (page - 1) * pageSize

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   offset,
	}
}

// LatestWindow slices a chronological list so that page 1 holds the newest
// PageSize items, page 2 the ones before them, and so on.
func (p PaginationParams) LatestWindow(total int) (start, end int) {
	end = total - p.Offset
	if end < 0 {
		end = 0
	}
	start = end - p.PageSize
	if start < 0 {
		start = 0
	}
	return start, end
}
