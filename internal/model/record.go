package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// VerdictRecord is the persisted form of a run exchanged with the book
// management side. Each populated slot holds the JSON of a UnitResult (or an
// array of them for chapters); a nil slot was not part of the run and must not
// overwrite a stored value when merged.
type VerdictRecord struct {
	BookID       string    `json:"bookId"`
	Model        string    `json:"model"`
	RunID        string    `json:"runId"`
	Seq          int64     `json:"seq"`
	Rating       AgeRating `json:"rating"`
	Passed       bool      `json:"passed"`
	CreatedAt    time.Time `json:"createdAt"`
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	CoverImage   *string   `json:"coverImage"`
	Chapters     *string   `json:"chapters"`
	Fingerprints *string   `json:"fingerprints,omitempty"`
}

// NewVerdictRecord serializes a run into its persisted record.
func NewVerdictRecord(run *ModerationRun) (*VerdictRecord, error) {
	rec := &VerdictRecord{
		BookID:    run.BookID,
		Model:     run.Model,
		RunID:     run.ID,
		Seq:       run.Seq,
		Rating:    run.Rating,
		Passed:    run.Passed,
		CreatedAt: run.CreatedAt,
	}

	var err error
	if rec.Title, err = encodeSlot(run.Title); err != nil {
		return nil, fmt.Errorf("encode title: %w", err)
	}
	if rec.Description, err = encodeSlot(run.Description); err != nil {
		return nil, fmt.Errorf("encode description: %w", err)
	}
	if rec.CoverImage, err = encodeSlot(run.CoverImage); err != nil {
		return nil, fmt.Errorf("encode cover image: %w", err)
	}
	if len(run.Chapters) > 0 {
		if rec.Chapters, err = encodeSlot(run.Chapters); err != nil {
			return nil, fmt.Errorf("encode chapters: %w", err)
		}
	}
	if len(run.Fingerprints) > 0 {
		if rec.Fingerprints, err = encodeSlot(run.Fingerprints); err != nil {
			return nil, fmt.Errorf("encode fingerprints: %w", err)
		}
	}
	return rec, nil
}

// Run decodes the record back into a run.
func (rec *VerdictRecord) Run() (*ModerationRun, error) {
	run := &ModerationRun{
		ID:        rec.RunID,
		BookID:    rec.BookID,
		Model:     rec.Model,
		Rating:    rec.Rating,
		Seq:       rec.Seq,
		Passed:    rec.Passed,
		CreatedAt: rec.CreatedAt,
	}
	if err := decodeSlot(rec.Title, &run.Title); err != nil {
		return nil, fmt.Errorf("decode title: %w", err)
	}
	if err := decodeSlot(rec.Description, &run.Description); err != nil {
		return nil, fmt.Errorf("decode description: %w", err)
	}
	if err := decodeSlot(rec.CoverImage, &run.CoverImage); err != nil {
		return nil, fmt.Errorf("decode cover image: %w", err)
	}
	if err := decodeSlot(rec.Chapters, &run.Chapters); err != nil {
		return nil, fmt.Errorf("decode chapters: %w", err)
	}
	if err := decodeSlot(rec.Fingerprints, &run.Fingerprints); err != nil {
		return nil, fmt.Errorf("decode fingerprints: %w", err)
	}
	return run, nil
}

// MergeRecord overlays next on prior. Metadata always comes from next; a slot
// only replaces the prior value when next populated it.
func MergeRecord(prior, next *VerdictRecord) *VerdictRecord {
	if prior == nil {
		return next
	}
	out := *next
	out.Title = coalesce(next.Title, prior.Title)
	out.Description = coalesce(next.Description, prior.Description)
	out.CoverImage = coalesce(next.CoverImage, prior.CoverImage)
	out.Chapters = coalesce(next.Chapters, prior.Chapters)
	out.Fingerprints = coalesce(next.Fingerprints, prior.Fingerprints)
	return &out
}

func coalesce(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func encodeSlot(v any) (*string, error) {
	switch t := v.(type) {
	case *UnitResult:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func decodeSlot(s *string, dest any) error {
	if s == nil || *s == "" || *s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(*s), dest)
}
