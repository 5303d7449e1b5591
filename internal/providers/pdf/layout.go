package pdf

import "github.com/johnfercher/maroto/v2/pkg/core"

// sizedRow is a maroto row together with the height it occupies. Maroto
// does not report row heights without a provider, so every block tracks
// them itself.
type sizedRow struct {
	height float64
	row    core.Row
}

type pageRows struct {
	rows []core.Row
	used float64
}

// Layout is the pagination state threaded through every block. Values are
// copy-on-write: placing rows never mutates a Layout that was handed out
// earlier.
type Layout struct {
	Page   int
	Cursor float64
	Usable float64
	Width  float64

	pages []pageRows
}

func NewLayout(usable, width float64) Layout {
	return Layout{Usable: usable, Width: width, pages: []pageRows{{}}}
}

func (l Layout) Remaining() float64 {
	return l.Usable - l.Cursor
}

func (l Layout) PageCount() int {
	return len(l.pages)
}

// Break starts a new page.
func (l Layout) Break() Layout {
	pages := make([]pageRows, len(l.pages), len(l.pages)+1)
	copy(pages, l.pages)
	l.pages = append(pages, pageRows{})
	l.Page = len(l.pages) - 1
	l.Cursor = 0
	return l
}

// Ensure breaks the page when fewer than h millimetres remain. An empty
// page never breaks, so oversized content still makes progress.
func (l Layout) Ensure(h float64) Layout {
	if l.Cursor > 0 && h > l.Remaining() {
		return l.Break()
	}
	return l
}

func (l Layout) Place(r sizedRow) Layout {
	l = l.Ensure(r.height)

	pages := make([]pageRows, len(l.pages))
	copy(pages, l.pages)
	current := pages[l.Page]
	current.rows = append(current.rows[:len(current.rows):len(current.rows)], r.row)
	current.used += r.height
	pages[l.Page] = current

	l.pages = pages
	l.Cursor = current.used
	return l
}

func (l Layout) PlaceAll(rows []sizedRow) Layout {
	for _, r := range rows {
		l = l.Place(r)
	}
	return l
}

// KeepTogether places rows as one unit. A group that does not fit in the
// remaining space but fits on an empty page moves to a fresh page; a group
// taller than a page flows row by row.
func (l Layout) KeepTogether(rows []sizedRow) Layout {
	total := totalHeight(rows)
	if total > l.Remaining() && total <= l.Usable {
		l = l.Break()
	}
	return l.PlaceAll(rows)
}

func totalHeight(rows []sizedRow) float64 {
	var h float64
	for _, r := range rows {
		h += r.height
	}
	return h
}
