package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		case *int16:
			*p = r.values[i].(int16)
		case *bool:
			*p = r.values[i].(bool)
		case **string:
			if v, ok := r.values[i].(string); ok {
				*p = &v
			}
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		"b1", "omni", "2f1c7f3e-0000-4000-8000-000000000000", int64(42), int16(2), false,
		`{"unit":{"kind":"title"}}`, nil, nil, `[]`, nil, at,
	}}

	rec, err := scanRecord(row)
	if err != nil {
		t.Fatal(err)
	}
	if rec.BookID != "b1" || rec.Model != "omni" || rec.Seq != 42 || rec.Rating != model.RatingMature {
		t.Errorf("rec = %+v", rec)
	}
	if rec.Title == nil || rec.Description != nil || rec.Chapters == nil || *rec.Chapters != "[]" {
		t.Errorf("slots = %v %v %v", rec.Title, rec.Description, rec.Chapters)
	}
	if !rec.CreatedAt.Equal(at) {
		t.Errorf("createdAt = %v", rec.CreatedAt)
	}

	boom := errors.New("boom")
	if _, err := scanRecord(fakeRow{err: boom}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestJSONParam(t *testing.T) {
	if jsonParam(nil) != nil {
		t.Error("nil slot should stay NULL")
	}
	s := `{"a":1}`
	got, ok := jsonParam(&s).([]byte)
	if !ok || string(got) != s {
		t.Errorf("jsonParam = %v", jsonParam(&s))
	}
}
