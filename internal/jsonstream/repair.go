package jsonstream

import (
	"encoding/json"
	"strings"
)

// RepairJSON turns a prefix of a streamed `{"subtitles":[...]}` document into
// valid JSON by keeping every record whose braces have closed and dropping
// whatever follows the last one: a dangling comma, a half-written object, an
// unterminated key or string. It never fails; when nothing can be recovered it
// returns EmptyDocument.
//
// Complete records are copied byte for byte. A record that is balanced but
// not valid JSON ends the scan, so the result is always a prefix of the
// records the finished document will hold.
func RepairJSON(text string) string {
	body, ok := subtitlesArrayBody(text)
	if !ok {
		return EmptyDocument
	}

	records := completeRecords(body)
	if len(records) == 0 {
		return EmptyDocument
	}

	var b strings.Builder
	b.Grow(len(body) + len(EmptyDocument))
	b.WriteString(`{"subtitles":[`)
	for i, record := range records {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(record)
	}
	b.WriteString("]}")
	return b.String()
}

// subtitlesArrayBody returns the text following the `[` that opens the
// subtitles array.
func subtitlesArrayBody(text string) (string, bool) {
	key := `"` + SubtitlesKey + `"`
	offset := 0
	for {
		idx := strings.Index(text[offset:], key)
		if idx < 0 {
			return "", false
		}
		pos := offset + idx + len(key)
		pos = skipSpace(text, pos)
		if pos < len(text) && text[pos] == ':' {
			pos = skipSpace(text, pos+1)
			if pos < len(text) && text[pos] == '[' {
				return text[pos+1:], true
			}
		}
		offset += idx + 1
	}
}

// completeRecords scans the array body and returns the source text of every
// object that closed before the stream was cut.
func completeRecords(body string) []string {
	var records []string
	depth := 0
	inString := false
	recordStart := -1

	for i := 0; i < len(body); i++ {
		c := body[i]
		if inString {
			if c == '"' && !IsEscaped(body, i) {
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth == 0 {
				// bare strings are not records
				return records
			}
			inString = true
		case '{', '[':
			if depth == 0 {
				if c == '[' {
					return records
				}
				recordStart = i
			}
			depth++
		case '}', ']':
			if depth == 0 {
				// end of the subtitles array, or a stray closer
				return records
			}
			depth--
			if depth == 0 {
				record := body[recordStart : i+1]
				if !json.Valid([]byte(record)) {
					return records
				}
				records = append(records, record)
				recordStart = -1
			}
		case ',', ' ', '\t', '\n', '\r':
		default:
			if depth == 0 {
				return records
			}
		}
	}
	return records
}

func skipSpace(text string, pos int) int {
	for pos < len(text) {
		switch text[pos] {
		case ' ', '\t', '\n', '\r':
			pos++
		default:
			return pos
		}
	}
	return pos
}
