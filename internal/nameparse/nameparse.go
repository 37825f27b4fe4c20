// Package nameparse turns raw provider entry names into a cleaned display
// title plus the convention markers (quality, language, provider tags) that
// providers pack into bracket, pipe, and parenthesis decorations.
//
// Recognition is a small fixed-priority list of edge matchers, applied
// repeatedly until none fires. Decorations embedded in the middle of a name
// are deliberately left alone.
package nameparse

import (
	"regexp"
	"strings"
)

// ParsedName is a raw name split into display title and extracted tags.
// Tags keep discovery order with duplicates collapsed; the title re-parses
// to itself with no tags.
type ParsedName struct {
	Title string
	Tags  []string
}

// Edge matchers, tried in this order until no rule fires. Submatch 1 is the
// tag body.
var rules = []*regexp.Regexp{
	// [FR] at the start, [HD] at the end. Body: short, alphanumeric-led.
	regexp.MustCompile(`^\[\s*([A-Za-z0-9][A-Za-z0-9 +.\-]{0,15})\s*\]\s*`),
	regexp.MustCompile(`\s*\[\s*([A-Za-z0-9][A-Za-z0-9 +.\-]{0,15})\s*\]$`),
	// |FR| Channel or UK | Channel. Pipe markers are upper-case by
	// convention; lower-case words around a pipe stay in the title.
	regexp.MustCompile(`^\|?\s*([A-Z0-9][A-Z0-9+\-]{0,3})\s*\|\s*`),
	regexp.MustCompile(`\s*\|\s*([A-Z0-9][A-Z0-9+\-]{0,3})\s*\|?$`),
	// Trailing (HD) / (4K) qualifier. Needs a letter so years like (2024)
	// stay part of the title.
	regexp.MustCompile(`\s*\(\s*([A-Za-z0-9][A-Za-z0-9+\-]{0,7})\s*\)$`),
}

var letterRe = regexp.MustCompile(`[A-Za-z]`)
var innerSpaceRe = regexp.MustCompile(`\s+`)

// Parse extracts edge tokens from raw and returns the cleaned title and tag
// set. Total: every input, including the empty string, yields a ParsedName
// (the title may be empty when the whole name was decoration).
func Parse(raw string) ParsedName {
	title := strings.TrimSpace(raw)
	var tags []string
	seen := map[string]bool{}

	for changed := true; changed; {
		changed = false
		for i, re := range rules {
			loc := re.FindStringSubmatchIndex(title)
			if loc == nil {
				continue
			}
			body := title[loc[2]:loc[3]]
			if i == len(rules)-1 && !letterRe.MatchString(body) {
				continue // trailing (...) without a letter is not a qualifier
			}
			tag := canonicalTag(body)
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
			title = strings.TrimSpace(title[:loc[0]] + " " + title[loc[1]:])
			changed = true
			break
		}
	}

	return ParsedName{
		Title: innerSpaceRe.ReplaceAllString(title, " "),
		Tags:  tags,
	}
}

func canonicalTag(body string) string {
	return strings.ToUpper(innerSpaceRe.ReplaceAllString(strings.TrimSpace(body), " "))
}
