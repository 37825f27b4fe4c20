// Package mediasource builds playback descriptors for catalog entries:
// the provider access URL composed from credentials, kind, and stream id,
// plus a protocol hint telling the player whether the container can be
// direct-streamed or needs a transcode.
package mediasource

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/snapetech/xtreamcache/internal/catalog"
)

// Protocol hints how a descriptor's stream should be consumed.
type Protocol string

const (
	ProtocolDirect    Protocol = "direct"
	ProtocolTranscode Protocol = "transcode"
)

// Credentials is the provider account used to compose access URLs.
type Credentials struct {
	BaseURL  string // e.g. http://provider:8080
	Username string
	Password string
}

// Descriptor is a playback-addressable record for one stream. Building it is
// deterministic: identical inputs always yield an identical descriptor, so
// callers may use it as a cache key.
type Descriptor struct {
	Kind      catalog.Kind `json:"kind"`
	URL       string       `json:"url"`
	Container string       `json:"container"`
	Protocol  Protocol     `json:"protocol"`
}

// Default containers per kind when the provider declares none.
const (
	defaultLiveExt = "ts"
	defaultVODExt  = "mp4"
)

// maxExtLen guards against garbage container_extension values from the wire.
const maxExtLen = 5

// Builder composes descriptors for one provider account. directFormats comes
// from the session's allowed output formats; containers outside it get the
// transcode hint.
type Builder struct {
	creds         Credentials
	directFormats map[string]bool
}

// NewBuilder returns a Builder for creds. formats lists the provider
// session's supported output formats; when empty, common containers are
// assumed direct-streamable.
func NewBuilder(creds Credentials, formats []string) *Builder {
	direct := make(map[string]bool, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			direct[f] = true
		}
	}
	if len(direct) == 0 {
		direct["ts"] = true
		direct["m3u8"] = true
		direct["mp4"] = true
	}
	return &Builder{creds: creds, directFormats: direct}
}

// Build composes the descriptor for one stream. containerHint is the
// provider-declared container extension; empty or implausible hints fall
// back to the per-kind default.
func (b *Builder) Build(kind catalog.Kind, id int, containerHint string) Descriptor {
	ext := normalizeExt(kind, containerHint)

	base := strings.TrimSuffix(b.creds.BaseURL, "/")
	var segment string
	switch kind {
	case catalog.KindLive:
		segment = "live"
	case catalog.KindSeries:
		segment = "series"
	default:
		segment = "vod"
	}
	u := fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		base,
		segment,
		url.PathEscape(b.creds.Username),
		url.PathEscape(b.creds.Password),
		url.PathEscape(strconv.Itoa(id)),
		url.PathEscape(ext),
	)

	protocol := ProtocolTranscode
	if b.directFormats[ext] {
		protocol = ProtocolDirect
	}
	return Descriptor{Kind: kind, URL: u, Container: ext, Protocol: protocol}
}

func normalizeExt(kind catalog.Kind, hint string) string {
	ext := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(hint, ".")))
	if ext == "" || len(ext) > maxExtLen {
		if kind == catalog.KindLive {
			return defaultLiveExt
		}
		return defaultVODExt
	}
	return ext
}
