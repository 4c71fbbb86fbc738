package engine

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
	"github.com/mathieu-neron/BookGuard/bookguard-go/pkg/hash"
)

// Diagnostic records a non-fatal problem found while assembling units.
type Diagnostic struct {
	Unit    string `json:"unit"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (d Diagnostic) String() string {
	return d.Unit + ": " + d.Message
}

// Assembly is the output of Assemble.
type Assembly struct {
	Units []model.Unit
	// Fingerprints holds the content hash of every assembled unit, by unit key.
	Fingerprints map[string]string
	Diagnostics  []Diagnostic
}

// Assemble flattens a book into classification units: title, description,
// cover image, then one unit per chapter in input order.
//
// Chapters outside opts.ChapterIDs are skipped before anything is built for
// them. A chapter with neither text nor images yields no unit, and a chapter
// whose payload has an unsupported shape is skipped with a diagnostic, as is
// a requested chapter id that matches no supplied chapter.
func Assemble(book model.BookContent, opts model.SelectOptions) Assembly {
	a := Assembly{Fingerprints: make(map[string]string)}

	if opts.IncludeBookInfo() {
		if t := normalizeText(book.Title); t != "" {
			a.add(model.Unit{UnitRef: model.UnitRef{Kind: model.UnitTitle}, Text: t})
		}
		if d := normalizeText(book.Description); d != "" {
			a.add(model.Unit{UnitRef: model.UnitRef{Kind: model.UnitDescription}, Text: d})
		}
		if c := strings.TrimSpace(book.CoverImage); c != "" {
			a.add(model.Unit{UnitRef: model.UnitRef{Kind: model.UnitCoverImage}, Images: []string{c}})
		}
	}

	chapters := resolveChapters(book)
	selected, restricted := a.selection(opts.ChapterIDs, chapters)

	seen := make(map[int]bool, len(chapters))
	for _, ch := range chapters {
		key := model.ChapterKey(ch.input.Chapter)
		if restricted && !selected[ch.input.Chapter] {
			continue
		}
		if seen[ch.input.Chapter] {
			a.diagnose(key, fmt.Errorf("duplicate chapter number %d", ch.input.Chapter))
			continue
		}
		seen[ch.input.Chapter] = true

		ref := model.UnitRef{
			Kind:         model.UnitChapter,
			Chapter:      ch.input.Chapter,
			ChapterTitle: strings.TrimSpace(ch.input.Title),
		}
		switch {
		case ch.invalid:
			a.diagnose(key, fmt.Errorf("unsupported chapter content %s", truncate(string(ch.input.Content.Raw), 64)))
		case ch.text != "":
			a.add(model.Unit{UnitRef: ref, Text: ch.text})
		case len(ch.images) > 0:
			a.add(model.Unit{UnitRef: ref, Images: ch.images})
		}
	}
	return a
}

// Fingerprints hashes every unit the book would produce with no selection
// applied. Used to work out which units changed since a previous run.
func Fingerprints(book model.BookContent) map[string]string {
	return Assemble(book, model.SelectOptions{}).Fingerprints
}

// UnitFingerprint hashes the classified payload of a unit.
func UnitFingerprint(u model.Unit) string {
	parts := []string{u.Key(), u.ChapterTitle}
	if u.IsImage() {
		parts = append(parts, "images")
		parts = append(parts, u.Images...)
	} else {
		parts = append(parts, "text", u.Text)
	}
	return hash.Fingerprint(parts...)
}

func (a *Assembly) add(u model.Unit) {
	a.Units = append(a.Units, u)
	a.Fingerprints[u.Key()] = UnitFingerprint(u)
}

func (a *Assembly) diagnose(unit string, err error) {
	a.Diagnostics = append(a.Diagnostics, Diagnostic{Unit: unit, Message: err.Error(), Err: err})
}

// selection turns requested chapter ids into a set of chapter numbers,
// reporting ids that match nothing.
func (a *Assembly) selection(ids []model.ChapterID, chapters []resolvedChapter) (map[int]bool, bool) {
	if len(ids) == 0 {
		return nil, false
	}

	present := make(map[int]bool, len(chapters))
	for _, ch := range chapters {
		present[ch.input.Chapter] = true
	}

	selected := make(map[int]bool, len(ids))
	for _, id := range ids {
		n, ok := id.Number()
		if !ok || !present[n] {
			a.diagnose("chapter:"+string(id), fmt.Errorf("%w: chapter %q", model.ErrUnitNotFound, string(id)))
			continue
		}
		selected[n] = true
	}
	return selected, true
}

type resolvedChapter struct {
	input   model.ChapterInput
	text    string
	images  []string
	invalid bool
}

// resolveChapters normalizes chapter payloads and shares out the flat image
// pool across every chapter that is not prose. The pool is allocated before
// any selection so image i always lands in the same chapter.
func resolveChapters(book model.BookContent) []resolvedChapter {
	out := make([]resolvedChapter, len(book.Chapters))
	var imageSlots []int
	for i, ch := range book.Chapters {
		out[i].input = ch
		switch ch.Content.Kind {
		case model.ContentText:
			out[i].text = normalizeText(ch.Content.Text)
			if out[i].text == "" {
				imageSlots = append(imageSlots, i)
			}
		case model.ContentImages:
			out[i].images = cleanRefs(ch.Content.Images)
			imageSlots = append(imageSlots, i)
		case model.ContentInvalid:
			out[i].invalid = true
		default:
			imageSlots = append(imageSlots, i)
		}
	}

	pool := cleanRefs(book.ChapterImages)
	if len(pool) == 0 {
		return out
	}
	for j, batch := range AllocateImages(len(imageSlots), pool) {
		slot := imageSlots[j]
		out[slot].images = append(out[slot].images, batch...)
	}
	return out
}

func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func cleanRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…(" + strconv.Itoa(len(s)) + " bytes)"
}
