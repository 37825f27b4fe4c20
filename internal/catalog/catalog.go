// Package catalog holds the normalized content catalog model: kinds,
// categories, entries, and the immutable per-generation snapshot.
package catalog

import "time"

// Kind is a content kind on the provider: live channels, on-demand titles,
// or series.
type Kind string

const (
	KindLive   Kind = "live"
	KindVOD    Kind = "vod"
	KindSeries Kind = "series"
)

// Kinds lists all kinds in fetch order.
var Kinds = []Kind{KindLive, KindVOD, KindSeries}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLive, KindVOD, KindSeries:
		return true
	}
	return false
}

// Category is one provider category within a kind.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Entry is one live channel, on-demand title, or series as fetched from the
// provider. Immutable once fetched.
type Entry struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	CategoryID int    `json:"category_id"`
	Kind       Kind   `json:"kind"`

	// Live-only fields.
	Number      int  `json:"number,omitempty"`       // channel number from the provider
	HasCatchup  bool `json:"has_catchup,omitempty"`  // tv_archive flag
	CatchupDays int  `json:"catchup_days,omitempty"` // tv_archive_duration in days

	LogoURL      string    `json:"logo_url,omitempty"`
	ContainerExt string    `json:"container_ext,omitempty"` // provider-declared container, VOD/series
	AddedAt      time.Time `json:"added_at,omitzero"`       // provider creation timestamp when declared
}
