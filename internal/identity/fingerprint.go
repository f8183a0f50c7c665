package identity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	punctuationPattern = regexp.MustCompile(`[^a-z0-9 ]+`)
	spacePattern       = regexp.MustCompile(`\s+`)
	trailingYearSuffix = regexp.MustCompile(`\s*\((\d{4})\)\s*$`)
)

// foldDiacritics strips combining marks so "Café" and "Cafe" normalize alike.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle lowercases the title, folds diacritics, strips punctuation,
// and collapses whitespace. An empty input yields an empty string.
func NormalizeTitle(title string) string {
	folded, _, err := transform.String(foldDiacritics, title)
	if err != nil {
		folded = title
	}
	lowered := strings.ToLower(folded)
	stripped := punctuationPattern.ReplaceAllString(lowered, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(stripped, " "))
}

// SplitTitleYear extracts a trailing "(YYYY)" qualifier from a title. When the
// supplied year is already known it wins; the suffix is stripped either way.
func SplitTitleYear(title string, year int) (string, int) {
	if match := trailingYearSuffix.FindStringSubmatch(title); match != nil {
		if year == 0 {
			if parsed, err := strconv.Atoi(match[1]); err == nil {
				year = parsed
			}
		}
		title = trailingYearSuffix.ReplaceAllString(title, "")
	}
	return strings.TrimSpace(title), year
}

// FallbackKey derives the normalized title/year matching key used when no
// stable identifier is available.
func FallbackKey(title string, year int) string {
	title, year = SplitTitleYear(title, year)
	key := NormalizeTitle(title)
	if key == "" {
		return ""
	}
	if year > 0 {
		key += fmt.Sprintf("|year:%d", year)
	}
	return key
}

// Fingerprint computes the last-resort identity key from a normalized
// title/year plus season and episode counts.
func Fingerprint(title string, year, seasonCount, episodeCount int) string {
	key := FallbackKey(title, year)
	if key == "" {
		return ""
	}
	if seasonCount > 0 {
		key += fmt.Sprintf("|s:%d", seasonCount)
	}
	if episodeCount > 0 {
		key += fmt.Sprintf("|e:%d", episodeCount)
	}
	return key
}

// FingerprintPrefix strips the trailing count qualifiers from a fingerprint,
// leaving the title/year stem used for loose prefix matching.
func FingerprintPrefix(fingerprint string) string {
	if idx := strings.Index(fingerprint, "|s:"); idx >= 0 {
		return fingerprint[:idx]
	}
	if idx := strings.Index(fingerprint, "|e:"); idx >= 0 {
		return fingerprint[:idx]
	}
	return fingerprint
}
