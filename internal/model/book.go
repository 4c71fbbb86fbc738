package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BookContent is the content submitted for a compliance check.
type BookContent struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	CoverImage  string         `json:"coverImage,omitempty"` // URL or data URI
	Chapters    []ChapterInput `json:"chapters,omitempty"`
	// ChapterImages is a flat image pool shared out across image chapters
	// when images are uploaded separately from chapter bodies.
	ChapterImages []string `json:"chapterImages,omitempty"`
}

// ChapterInput is one chapter as supplied by the caller.
type ChapterInput struct {
	Chapter int            `json:"chapter"`
	Title   string         `json:"title"`
	Content ChapterContent `json:"content"`
}

// ContentKind describes how a chapter body was supplied.
type ContentKind int

const (
	ContentEmpty ContentKind = iota
	ContentText
	ContentImages
	ContentInvalid
)

// ChapterContent is either prose or an ordered image list. Any other JSON
// shape decodes as ContentInvalid instead of failing the whole request, so a
// single bad chapter can be skipped.
type ChapterContent struct {
	Kind   ContentKind
	Text   string
	Images []string
	Raw    json.RawMessage
}

// TextContent builds prose chapter content.
func TextContent(s string) ChapterContent {
	return ChapterContent{Kind: ContentText, Text: s}
}

// ImageContent builds image chapter content.
func ImageContent(images ...string) ChapterContent {
	return ChapterContent{Kind: ContentImages, Images: images}
}

func (c *ChapterContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*c = ChapterContent{Raw: append(json.RawMessage(nil), trimmed...)}

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		c.Kind = ContentEmpty
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		c.Kind = ContentText
		c.Text = s
		return nil
	}

	var images []string
	if err := json.Unmarshal(trimmed, &images); err == nil {
		c.Kind = ContentImages
		c.Images = images
		return nil
	}

	c.Kind = ContentInvalid
	return nil
}

func (c ChapterContent) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentText:
		return json.Marshal(c.Text)
	case ContentImages:
		return json.Marshal(c.Images)
	case ContentInvalid:
		if len(c.Raw) > 0 {
			return c.Raw, nil
		}
	}
	return []byte("null"), nil
}

// ChapterID selects a chapter by number. It decodes from a JSON number or a
// numeric string.
type ChapterID string

func (id *ChapterID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ChapterID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chapter id must be a string or number")
	}
	*id = ChapterID(n.String())
	return nil
}

// Number returns the chapter number the id refers to.
func (id ChapterID) Number() (int, bool) {
	n, err := strconv.Atoi(string(id))
	if err != nil {
		f, ferr := strconv.ParseFloat(string(id), 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	}
	return n, true
}

// SelectOptions restricts which parts of a book are classified.
type SelectOptions struct {
	// ChapterIDs limits chapter classification to these chapters. Empty means
	// every chapter.
	ChapterIDs []ChapterID `json:"chapterIds,omitempty"`
	// ModerateBookInfo controls title, description and cover classification.
	// Nil means true.
	ModerateBookInfo *bool `json:"moderateBookInfo,omitempty"`
	// OnlyChanged derives the selection from content fingerprints of the
	// model's previous run.
	OnlyChanged bool `json:"onlyChanged,omitempty"`
}

// IncludeBookInfo resolves ModerateBookInfo with its default.
func (o SelectOptions) IncludeBookInfo() bool {
	return o.ModerateBookInfo == nil || *o.ModerateBookInfo
}
