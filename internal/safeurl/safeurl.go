// Package safeurl validates and sanitizes provider URLs. Xtream panels put
// account credentials in both the query string (player_api.php) and the
// path (stream URLs), so any URL that can reach a log line or a status
// message goes through Redact first.
package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

const mask = "xxx"

// credentialParams are query keys whose values are masked.
var credentialParams = []string{"username", "password"}

// streamPathPrefixes are path roots of the form /{kind}/{user}/{pass}/{id}.{ext}
// whose second and third segments are masked.
var streamPathPrefixes = []string{"live", "vod", "movie", "series"}

// Redact returns raw with account credentials masked. Unparseable input is
// returned as-is (it cannot carry structured credentials we would recognise).
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User(mask)
	}

	q := u.Query()
	changed := false
	for _, key := range credentialParams {
		if q.Has(key) {
			q.Set(key, mask)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	segs := strings.Split(u.Path, "/")
	// ["", kind, user, pass, ...]
	if len(segs) >= 4 {
		for _, prefix := range streamPathPrefixes {
			if segs[1] == prefix {
				segs[2] = mask
				segs[3] = mask
				u.Path = strings.Join(segs, "/")
				u.RawPath = ""
				break
			}
		}
	}
	return u.String()
}
