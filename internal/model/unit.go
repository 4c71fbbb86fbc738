package model

import "strconv"

// UnitKind identifies which slot of a book a unit came from.
type UnitKind string

const (
	UnitTitle       UnitKind = "title"
	UnitDescription UnitKind = "description"
	UnitCoverImage  UnitKind = "coverImage"
	UnitChapter     UnitKind = "chapter"
)

// UnitRef is the identity of a moderation unit.
type UnitRef struct {
	Kind         UnitKind `json:"kind"`
	Chapter      int      `json:"chapter,omitempty"`
	ChapterTitle string   `json:"chapterTitle,omitempty"`
}

// Key returns the stable identity used to match results and fingerprints:
// "title", "description", "coverImage" or "chapter:<n>".
func (r UnitRef) Key() string {
	if r.Kind == UnitChapter {
		return ChapterKey(r.Chapter)
	}
	return string(r.Kind)
}

// ChapterKey returns the unit key for chapter n.
func ChapterKey(n int) string {
	return "chapter:" + strconv.Itoa(n)
}

// Unit is one classifiable piece of content. Exactly one of Text or Images
// carries the payload. Units are built per request and never modified.
type Unit struct {
	UnitRef
	Text   string   `json:"text,omitempty"`
	Images []string `json:"images,omitempty"`
}

// IsImage reports whether the payload is an image sequence.
func (u Unit) IsImage() bool {
	return len(u.Images) > 0
}

// Offense is a category whose score met or exceeded the rating limit.
type Offense struct {
	Category   Category `json:"category"`
	Score      float64  `json:"score"`
	Percentage float64  `json:"percentage"`
}

// UnitResult is the verdict for one unit in one run.
type UnitResult struct {
	Unit          UnitRef        `json:"unit"`
	Scores        CategoryScores `json:"scores"`
	Flagged       bool           `json:"flagged"`
	Reason        string         `json:"reason,omitempty"`
	Offending     []Offense      `json:"offending,omitempty"`
	MinimumRating AgeRating      `json:"minimumRating"`
	// Error is set when the unit could not be classified. Such a unit is
	// always flagged so it can never count as passed.
	Error string `json:"error,omitempty"`
}

// Failed reports whether classification failed for this unit.
func (r UnitResult) Failed() bool {
	return r.Error != ""
}
