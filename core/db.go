package core

import "strings"

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// ParseOrdering parses a comma separated list of fields, each optionally
// prefixed with "-" for descending order, e.g. "-risk_score,name".
func ParseOrdering(s string) []DBOrdering {
	var orderings []DBOrdering
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		orderings = append(orderings, DBOrdering{Field: field, Ascending: !descending})
	}
	return orderings
}

// FilterOrdering drops the orderings on fields not present in allowed.
func FilterOrdering(orderings []DBOrdering, allowed map[string]bool) []DBOrdering {
	kept := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if allowed[ord.Field] {
			kept = append(kept, ord)
		}
	}
	return kept
}
