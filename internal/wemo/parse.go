package wemo

import (
	"regexp"
	"sync"
)

var (
	tagPatternsMu sync.Mutex
	tagPatterns   = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	tagPatternsMu.Lock()
	defer tagPatternsMu.Unlock()

	re, ok := tagPatterns[tag]
	if !ok {
		q := regexp.QuoteMeta(tag)
		re = regexp.MustCompile(`(?i)<` + q + `>(.*?)</` + q + `>`)
		tagPatterns[tag] = re
	}
	return re
}

// FindTagValue returns the inner text of the first <tag>...</tag> pair in
// text. Matching is case-insensitive and does not span lines; it is not an
// XML parser and does not handle nesting or attributes.
func FindTagValue(tag, text string) (string, bool) {
	m := tagPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseBinaryState extracts and parses the <BinaryState> element from a
// SOAP response or event notification body.
func ParseBinaryState(body string) (State, error) {
	value, ok := FindTagValue("BinaryState", body)
	if !ok {
		return 0, NewParseError("BinaryState", "no BinaryState element in body", nil)
	}
	return ParseState(value)
}
