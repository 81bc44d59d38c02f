package domain

import (
	"fmt"
	"strings"
)

// Location is a normalized (city, region, country) triple.
type Location struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

// ParseLocation splits a comma-joined location string into its three parts,
// trimming whitespace around each. City and country are required.
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Location{}, fmt.Errorf("%w: %q must have exactly three comma-separated parts", ErrInvalidLocation, s)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	loc := Location{City: parts[0], Region: parts[1], Country: parts[2]}
	if loc.City == "" {
		return Location{}, fmt.Errorf("%w: %q has no city", ErrInvalidLocation, s)
	}
	if loc.Country == "" {
		return Location{}, fmt.Errorf("%w: %q has no country", ErrInvalidLocation, s)
	}
	return loc, nil
}

// NormalizeLocation returns s with whitespace around commas removed.
func NormalizeLocation(s string) (string, error) {
	loc, err := ParseLocation(s)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// String returns the storage form "city,region,country".
func (l Location) String() string {
	return l.City + "," + l.Region + "," + l.Country
}

// DisplayName is the first segment of the stored location.
func (l Location) DisplayName() string {
	return l.City
}

// IsZero reports whether no part of the location is set.
func (l Location) IsZero() bool {
	return l == Location{}
}

// DisplayNameOf returns the first comma-delimited segment of a stored
// location string.
func DisplayNameOf(stored string) string {
	name, _, _ := strings.Cut(stored, ",")
	return strings.TrimSpace(name)
}
