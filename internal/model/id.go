package model

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildNewsID joins a source prefix and an item number: "hr", 12 -> "hr_12".
func BuildNewsID(prefix string, n int64) string {
	return prefix + "_" + strconv.FormatInt(n, 10)
}

// ParseNewsID splits an id of the form <prefix>_<integer>. The prefix may
// itself contain underscores; the number is everything after the last one.
func ParseNewsID(id string) (string, int64, error) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("%w: malformed news id %q", ErrContent, id)
	}
	n, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("%w: malformed news id %q", ErrContent, id)
	}
	return id[:i], n, nil
}

// CompareNewsIDs orders two ids by their integer suffix and returns -1, 0
// or +1. Ids with different prefixes are not comparable.
func CompareNewsIDs(a, b string) (int, error) {
	pa, na, err := ParseNewsID(a)
	if err != nil {
		return 0, err
	}
	pb, nb, err := ParseNewsID(b)
	if err != nil {
		return 0, err
	}
	if pa != pb {
		return 0, fmt.Errorf("%w: ids %q and %q belong to different sources", ErrContent, a, b)
	}
	switch {
	case na < nb:
		return -1, nil
	case na > nb:
		return 1, nil
	}
	return 0, nil
}

// MaxNewsID returns the item with the greatest integer suffix.
func MaxNewsID(items []NewsItem) (string, error) {
	var (
		best  string
		bestN int64 = -1
	)
	for _, it := range items {
		_, n, err := ParseNewsID(it.ID)
		if err != nil {
			return "", err
		}
		if n > bestN {
			best, bestN = it.ID, n
		}
	}
	if bestN < 0 {
		return "", fmt.Errorf("%w: no items", ErrContent)
	}
	return best, nil
}
