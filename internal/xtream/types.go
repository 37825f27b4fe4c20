package xtream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexInt decodes provider numeric fields that arrive as either a JSON
// number or a numeric string (panels disagree on this constantly). A value
// that is neither is a decode error — ids are never silently defaulted.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return fmt.Errorf("numeric field %q: %w", str, err)
		}
		*f = FlexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("numeric field %q: %w", n.String(), err)
	}
	*f = FlexInt(v)
	return nil
}

func (f FlexInt) Int() int { return int(f) }

// Category is one player_api category row.
type Category struct {
	ID   FlexInt `json:"category_id"`
	Name string  `json:"category_name"`
}

// Stream is one player_api stream row. Live and VOD rows share this shape;
// series listings carry SeriesID instead of StreamID.
type Stream struct {
	StreamID           FlexInt `json:"stream_id"`
	SeriesID           FlexInt `json:"series_id"`
	Num                FlexInt `json:"num"`
	Name               string  `json:"name"`
	StreamIcon         string  `json:"stream_icon"`
	Cover              string  `json:"cover"`
	CategoryID         FlexInt `json:"category_id"`
	TVArchive          FlexInt `json:"tv_archive"`
	TVArchiveDuration  FlexInt `json:"tv_archive_duration"`
	ContainerExtension string  `json:"container_extension"`
	Added              string  `json:"added"` // unix seconds, as a string
}

// SessionInfo is the normalized player_api account/server info.
type SessionInfo struct {
	ActiveConnections int
	MaxConnections    int
	ExpiresAt         int64 // unix seconds, 0 when the panel omits it
	ServerTime        string
	Timezone          string
	OutputFormats     []string
}

// wireSession mirrors the raw auth response.
type wireSession struct {
	UserInfo struct {
		ActiveCons           FlexInt  `json:"active_cons"`
		MaxConnections       FlexInt  `json:"max_connections"`
		ExpDate              string   `json:"exp_date"`
		AllowedOutputFormats []string `json:"allowed_output_formats"`
	} `json:"user_info"`
	ServerInfo struct {
		Timezone     string  `json:"timezone"`
		TimeNow      string  `json:"time_now"`
		TimestampNow FlexInt `json:"timestamp_now"`
	} `json:"server_info"`
}
