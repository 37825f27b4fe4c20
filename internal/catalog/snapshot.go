package catalog

import (
	"encoding/json"
	"time"
)

// Snapshot is one fully-assembled generation of the synchronized catalog.
// It is immutable after construction: a refresh builds a wholly new Snapshot
// and publishes it by pointer swap, never mutating a published one. Readers
// get copies from the accessors, so a Snapshot can be shared freely.
type Snapshot struct {
	builtAt    time.Time
	categories map[Kind][]Category
	entries    map[Kind]map[int][]Entry // kind -> category id -> ordered entries
}

// Empty returns a snapshot with no content and a zero build time.
func Empty() *Snapshot {
	return &Snapshot{
		categories: map[Kind][]Category{},
		entries:    map[Kind]map[int][]Entry{},
	}
}

// New builds a snapshot from categories and per-category entries, copying
// both so later mutation of the inputs cannot leak into the snapshot.
func New(builtAt time.Time, categories map[Kind][]Category, entries map[Kind]map[int][]Entry) *Snapshot {
	s := &Snapshot{
		builtAt:    builtAt,
		categories: make(map[Kind][]Category, len(categories)),
		entries:    make(map[Kind]map[int][]Entry, len(entries)),
	}
	for kind, cats := range categories {
		cp := make([]Category, len(cats))
		copy(cp, cats)
		s.categories[kind] = cp
	}
	for kind, byCat := range entries {
		m := make(map[int][]Entry, len(byCat))
		for id, list := range byCat {
			cp := make([]Entry, len(list))
			copy(cp, list)
			m[id] = cp
		}
		s.entries[kind] = m
	}
	return s
}

// BuiltAt returns the generation timestamp (zero for the empty snapshot).
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Categories returns the ordered categories for kind.
func (s *Snapshot) Categories(kind Kind) []Category {
	cats := s.categories[kind]
	out := make([]Category, len(cats))
	copy(out, cats)
	return out
}

// Entries returns the ordered entries of one category, or nil when the
// category is unknown.
func (s *Snapshot) Entries(kind Kind, categoryID int) []Entry {
	list := s.entries[kind][categoryID]
	if list == nil {
		return nil
	}
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// Entry looks up a single entry by id within a kind.
func (s *Snapshot) Entry(kind Kind, id int) (Entry, bool) {
	for _, list := range s.entries[kind] {
		for _, e := range list {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Populated reports whether at least one category holds at least one entry.
func (s *Snapshot) Populated() bool {
	for _, byCat := range s.entries {
		for _, list := range byCat {
			if len(list) > 0 {
				return true
			}
		}
	}
	return false
}

// EntryCount returns the total number of entries across all kinds.
func (s *Snapshot) EntryCount() int {
	n := 0
	for _, byCat := range s.entries {
		for _, list := range byCat {
			n += len(list)
		}
	}
	return n
}

// snapshotJSON is the wire form for persistence.
type snapshotJSON struct {
	BuiltAt    time.Time               `json:"built_at"`
	Categories map[Kind][]Category     `json:"categories"`
	Entries    map[Kind]map[int][]Entry `json:"entries"`
}

// MarshalJSON serializes the snapshot for the on-disk store.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		BuiltAt:    s.builtAt,
		Categories: s.categories,
		Entries:    s.entries,
	})
}

// UnmarshalJSON restores a snapshot written by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w snapshotJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.builtAt = w.BuiltAt
	s.categories = w.Categories
	s.entries = w.Entries
	if s.categories == nil {
		s.categories = map[Kind][]Category{}
	}
	if s.entries == nil {
		s.entries = map[Kind]map[int][]Entry{}
	}
	return nil
}
