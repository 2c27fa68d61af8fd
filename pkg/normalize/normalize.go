// Package normalize defines the byte coordinate system every shard's
// provenance and span offsets are measured against. The function here must
// stay pure and stable across versions: on-disk byte offsets depend on it.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var listItemRe = regexp.MustCompile(`^\(?\d+\)?\.?\s+`)

// Source applies the §4.6 normalization pipeline:
//  1. Unicode NFC.
//  2. Line endings to LF.
//  3. Trailing per-line whitespace trimmed; leading/trailing blank lines dropped.
//  4. Conservative soft-wrap repair: a wrapped line is joined into the
//     previous one only when the previous line does not end in a sentence
//     terminator and the next line begins with a lowercase letter or digit,
//     or the previous line ends with a hyphen (hyphenation join). A run of
//     blank lines between two lines that meet the first condition is
//     dropped and the lines are joined with a space.
//  5. Heading-like lines (all-uppercase or ending in ':') and list items
//     never get merged into.
//  6. Duplicate blank lines collapse to one.
//  7. A single trailing newline is guaranteed.
func Source(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	rawLines := strings.Split(s, "\n")
	for i := range rawLines {
		rawLines[i] = collapseInternalSpace(strings.TrimRight(rawLines[i], " \t\f\v"))
	}

	for len(rawLines) > 0 && rawLines[0] == "" {
		rawLines = rawLines[1:]
	}
	for len(rawLines) > 0 && rawLines[len(rawLines)-1] == "" {
		rawLines = rawLines[:len(rawLines)-1]
	}

	var out []string
	i := 0
	for i < len(rawLines) {
		line := rawLines[i]

		if line == "" {
			j := i + 1
			for j < len(rawLines) && rawLines[j] == "" {
				j++
			}
			if len(out) > 0 && j < len(rawLines) {
				prev := out[len(out)-1]
				next := strings.TrimLeft(rawLines[j], " \t")
				if prev != "" && !endsSentence(prev) && startsContinuation(next) && !looksLikeHeading(prev) && !looksLikeList(next) {
					out[len(out)-1] = prev + " " + next
					i = j + 1
					continue
				}
			}
			if len(out) == 0 || out[len(out)-1] != "" {
				out = append(out, "")
			}
			i++
			continue
		}

		buf := line
		i++
		for i < len(rawLines) {
			next := rawLines[i]
			if next == "" {
				break
			}
			if strings.HasSuffix(buf, "-") {
				buf = buf[:len(buf)-1] + strings.TrimLeft(next, " \t")
				i++
				continue
			}
			if looksLikeHeading(buf) || looksLikeList(next) {
				break
			}
			if endsSentence(buf) || !startsContinuation(strings.TrimLeft(next, " \t")) {
				break
			}
			buf = buf + " " + strings.TrimLeft(next, " \t")
			i++
		}
		out = append(out, buf)
	}

	cleaned := make([]string, 0, len(out))
	for _, ln := range out {
		if ln == "" && len(cleaned) > 0 && cleaned[len(cleaned)-1] == "" {
			continue
		}
		cleaned = append(cleaned, ln)
	}

	return strings.Join(cleaned, "\n") + "\n"
}

var internalSpaceRe = regexp.MustCompile(`[ \t]{2,}`)

// collapseInternalSpace collapses runs of internal whitespace to a single
// space, leaving leading indentation alone (already trimmed by callers that
// care, preserved here for list-marker detection downstream).
func collapseInternalSpace(s string) string {
	leading := len(s) - len(strings.TrimLeft(s, " \t"))
	return s[:leading] + internalSpaceRe.ReplaceAllString(s[leading:], " ")
}

func endsSentence(s string) bool {
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return strings.ContainsRune(".:;!?)", rune(last))
}

func startsContinuation(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return unicode.IsLower(r) || unicode.IsDigit(r)
}

func looksLikeHeading(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasSuffix(s, ":") {
		return true
	}
	return s == strings.ToUpper(s) && strings.ToUpper(s) != strings.ToLower(s)
}

func looksLikeList(s string) bool {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
		return true
	}
	return listItemRe.MatchString(trimmed)
}
