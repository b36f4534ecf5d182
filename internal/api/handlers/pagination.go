package handlers

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-phishtriage/internal/validator"
)

// pagination reads limit and offset, clamping them to the allowed range.
// Non-numeric values are rejected rather than silently defaulted.
func pagination(c echo.Context) (int, int, error) {
	limit, offset := 0, 0

	if l := c.QueryParam("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil {
			return 0, 0, fmt.Errorf("limit must be a number")
		}
		limit = v
	}
	if o := c.QueryParam("offset"); o != "" {
		v, err := strconv.Atoi(o)
		if err != nil {
			return 0, 0, fmt.Errorf("offset must be a number")
		}
		offset = v
	}

	limit, offset = validator.ValidatePagination(limit, offset)
	return limit, offset, nil
}
