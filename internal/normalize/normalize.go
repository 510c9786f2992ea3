// Package normalize holds the pure value-normalization rules shared by the
// staging mapper and the publishing pipeline: slug derivation, boolean and
// numeric coercion, and small string cleanups.
package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// NA is the stable sentinel used when a dictionary lookup or a text field
// has no usable value.
const NA = "N/A"

// MaxSlugLen caps generated slugs so they stay within target-system field
// limits.
const MaxSlugLen = 128

var trailingSuffixRe = regexp.MustCompile(`-\d+$`)

// Slugify derives a URL-safe natural key from a label: lowercase, runs of
// non-alphanumerics collapsed to single dashes, trimmed, capped at
// MaxSlugLen. An input with no usable characters yields "item" so a slug is
// never empty.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > MaxSlugLen {
		slug = strings.Trim(slug[:MaxSlugLen], "-")
	}
	if slug == "" {
		return "item"
	}
	return slug
}

// StripSlugSuffix removes a trailing numeric disambiguation suffix
// ("garage-2" -> "garage") so that logically identical entities match even
// when the target system appended a counter at creation time.
func StripSlugSuffix(slug string) string {
	return trailingSuffixRe.ReplaceAllString(slug, "")
}

// ParseBool coerces the loose truthy family used by the upstream feed.
// Accepted as true: bool true, non-zero numbers, and the strings
// "true"/"yes"/"y"/"1" (case-insensitive). Everything else is false.
func ParseBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
	}
	return false
}

// ParseNumber coerces a raw value to *float64, returning nil for absent,
// unparsable, or non-finite values. nil distinguishes "unknown" from a
// measured zero.
func ParseNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == NA {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ParseInt coerces a raw value to an integer id, reporting whether a usable
// value was present.
func ParseInt(v any) (int, bool) {
	f := ParseNumber(v)
	if f == nil {
		return 0, false
	}
	return int(*f), true
}

// Text trims a raw string value and maps the upstream N/A sentinel to an
// empty string.
func Text(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == NA {
		return ""
	}
	return s
}

// CleanDate parses the loose date formats the feed emits and reformats to
// YYYY-MM-DD. Unparsable input yields an empty string.
func CleanDate(v any) string {
	s := Text(v)
	if s == "" {
		return ""
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02/01/2006",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// SplitList splits a comma- or newline-separated field into trimmed,
// non-empty parts.
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML reduces a rich-text value to plain text: tags removed, common
// entities decoded, whitespace collapsed.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&#39;", "'",
		"&quot;", `"`,
	)
	s = replacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// EPCLabel derives an energy-performance label from a numeric score when the
// feed omits the label itself.
func EPCLabel(score float64) string {
	switch {
	case score <= 0:
		return "A+"
	case score <= 100:
		return "A"
	case score <= 200:
		return "B"
	case score <= 300:
		return "C"
	case score <= 400:
		return "D"
	case score <= 500:
		return "E"
	default:
		return "F"
	}
}
