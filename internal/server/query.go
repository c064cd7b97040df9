package server

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/proclean/internal/inventory"
)

// reservedParams are query parameters that are not column filters.
var reservedParams = map[string]struct{}{
	"select": {},
	"limit":  {},
	"order":  {},
}

// parseFilters reads column=eq.value pairs. Only equality is supported.
func parseFilters(values url.Values) ([]inventory.Filter, error) {
	columns := make([]string, 0, len(values))
	for column := range values {
		if _, reserved := reservedParams[column]; reserved {
			continue
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	filters := make([]inventory.Filter, 0, len(columns))
	for _, column := range columns {
		for _, raw := range values[column] {
			value, ok := strings.CutPrefix(raw, "eq.")
			if !ok {
				return nil, fmt.Errorf("unsupported filter %s=%s", column, raw)
			}
			filters = append(filters, inventory.Filter{Column: column, Value: value})
		}
	}
	return filters, nil
}

func parseSelectQuery(values url.Values) (inventory.SelectQuery, error) {
	filters, err := parseFilters(values)
	if err != nil {
		return inventory.SelectQuery{}, err
	}
	query := inventory.SelectQuery{Filters: filters}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return inventory.SelectQuery{}, fmt.Errorf("invalid limit %q", raw)
		}
		query.Limit = limit
	}
	if raw := values.Get("order"); raw != "" {
		column, direction, _ := strings.Cut(raw, ".")
		switch direction {
		case "", "asc":
		case "desc":
			query.Descending = true
		default:
			return inventory.SelectQuery{}, fmt.Errorf("invalid order %q", raw)
		}
		query.OrderBy = column
	}
	return query, nil
}
