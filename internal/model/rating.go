package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AgeRating is the creator-declared audience tier, ordered from most to least
// restrictive. Decisions use the numeric tier; labels are for display only.
type AgeRating int

const (
	RatingEveryone AgeRating = iota
	RatingTeen
	RatingMature
	RatingAdult
)

// Ratings lists every tier from most to least restrictive.
var Ratings = []AgeRating{RatingEveryone, RatingTeen, RatingMature, RatingAdult}

var ratingNames = [...]string{"EVERYONE", "TEEN", "MATURE", "ADULT"}

var ratingLabels = [...]string{"All", "13+", "16+", "18+"}

// Valid reports whether r is one of the four tiers.
func (r AgeRating) Valid() bool {
	return r >= RatingEveryone && r <= RatingAdult
}

func (r AgeRating) String() string {
	if !r.Valid() {
		return fmt.Sprintf("AgeRating(%d)", int(r))
	}
	return ratingNames[r]
}

// Label returns the display label ("All", "13+", "16+", "18+").
func (r AgeRating) Label() string {
	if !r.Valid() {
		return ""
	}
	return ratingLabels[r]
}

// Next returns the next less restrictive tier. ADULT has none.
func (r AgeRating) Next() (AgeRating, bool) {
	if !r.Valid() || r == RatingAdult {
		return r, false
	}
	return r + 1, true
}

// ParseAgeRating accepts a tier name, a display label, or the numeric tier.
func ParseAgeRating(s string) (AgeRating, error) {
	v := strings.TrimSpace(s)
	for i, name := range ratingNames {
		if strings.EqualFold(v, name) || v == ratingLabels[i] {
			return AgeRating(i), nil
		}
	}
	if n, err := strconv.Atoi(v); err == nil && AgeRating(n).Valid() {
		return AgeRating(n), nil
	}
	return 0, fmt.Errorf("unknown age rating %q", s)
}

func (r AgeRating) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid age rating %d", int(r))
	}
	return json.Marshal(r.String())
}

func (r *AgeRating) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("age rating must be a string or number")
		}
		s = strconv.Itoa(n)
	}
	parsed, err := ParseAgeRating(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText lets AgeRating key JSON maps by tier name.
func (r AgeRating) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid age rating %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *AgeRating) UnmarshalText(text []byte) error {
	parsed, err := ParseAgeRating(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
