// Package fetch adapts the raw xtream transport rows into normalized
// catalog values. It is a thin pass-through: transport failures surface
// untouched, and malformed fields fail the call instead of being defaulted.
package fetch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/xtream"
)

// Client is the transport surface the fetcher needs. *xtream.Client
// satisfies it; tests inject fakes.
type Client interface {
	Categories(ctx context.Context, kind catalog.Kind) ([]xtream.Category, error)
	Streams(ctx context.Context, kind catalog.Kind, categoryID int) ([]xtream.Stream, error)
}

// Fetcher fans out over the transport client per content kind.
type Fetcher struct {
	client Client
}

// New returns a Fetcher over client.
func New(client Client) *Fetcher {
	return &Fetcher{client: client}
}

// Categories lists the normalized categories for kind, in provider order.
func (f *Fetcher) Categories(ctx context.Context, kind catalog.Kind) ([]catalog.Category, error) {
	rows, err := f.client.Categories(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, catalog.Category{
			ID:   row.ID.Int(),
			Name: strings.TrimSpace(row.Name),
			Kind: kind,
		})
	}
	return out, nil
}

// Entries lists the normalized entries of one category, in provider order.
func (f *Fetcher) Entries(ctx context.Context, kind catalog.Kind, categoryID int) ([]catalog.Entry, error) {
	rows, err := f.client.Streams(ctx, kind, categoryID)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := normalizeEntry(kind, categoryID, row)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func normalizeEntry(kind catalog.Kind, categoryID int, row xtream.Stream) (catalog.Entry, error) {
	id := row.StreamID.Int()
	if kind == catalog.KindSeries && id == 0 {
		id = row.SeriesID.Int()
	}
	if id == 0 {
		return catalog.Entry{}, fmt.Errorf("%w: %s entry %q has no id", xtream.ErrParse, kind, row.Name)
	}

	logo := row.StreamIcon
	if logo == "" {
		logo = row.Cover
	}

	entry := catalog.Entry{
		ID:           id,
		Name:         strings.TrimSpace(row.Name),
		CategoryID:   categoryID,
		Kind:         kind,
		LogoURL:      logo,
		ContainerExt: strings.TrimSpace(row.ContainerExtension),
	}
	if kind == catalog.KindLive {
		entry.Number = row.Num.Int()
		entry.HasCatchup = row.TVArchive.Int() == 1
		entry.CatchupDays = row.TVArchiveDuration.Int()
	}

	if added := strings.TrimSpace(row.Added); added != "" && added != "0" {
		sec, err := strconv.ParseInt(added, 10, 64)
		if err != nil {
			return catalog.Entry{}, fmt.Errorf("%w: %s entry %d: added %q: %v", xtream.ErrParse, kind, id, added, err)
		}
		entry.AddedAt = time.Unix(sec, 0).UTC()
	}
	return entry, nil
}
