package jsonstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseTranslationJSON is the live-preview parser: sanitize, repair, decode.
// It never fails. The result holds the longest run of leading records that
// are complete and well-formed, and is never nil.
func ParseTranslationJSON(text string) []SubtitleRecord {
	repaired := RepairJSON(CleanUpJSONResponse(text))

	var doc struct {
		Subtitles []json.RawMessage `json:"subtitles"`
	}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return []SubtitleRecord{}
	}

	records := make([]SubtitleRecord, 0, len(doc.Subtitles))
	for i, raw := range doc.Subtitles {
		var w wireRecord
		if err := json.Unmarshal(raw, &w); err != nil {
			break
		}
		record, err := w.toRecord(i)
		if err != nil {
			break
		}
		records = append(records, record)
	}
	return records
}

// ParseTranslationArrayStrict validates a finished or hand-edited response.
// Nothing is repaired: the sanitized text must be exactly one
// `{"subtitles":[...]}` document whose records carry a positive, unique
// index and string content and translated fields, and no unknown fields.
func ParseTranslationArrayStrict(text string) ([]SubtitleRecord, error) {
	cleaned := CleanUpJSONResponse(text)
	if cleaned == "" {
		return nil, newParseError(StageEmpty, -1, "nothing to parse", ErrEmptyResponse)
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var doc wireDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, classifyDecodeError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, newParseError(StageSyntax, -1, "unexpected data after document", err)
	}
	if doc.Subtitles == nil {
		return nil, newParseError(StageShape, -1, `missing "subtitles" array`, nil)
	}

	records := make([]SubtitleRecord, 0, len(*doc.Subtitles))
	seen := make(map[int]struct{}, len(*doc.Subtitles))
	for i, w := range *doc.Subtitles {
		record, err := w.toRecord(i)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[record.Index]; dup {
			return nil, newParseError(StageShape, i, fmt.Sprintf("duplicate index %d", record.Index), nil)
		}
		seen[record.Index] = struct{}{}
		records = append(records, record)
	}
	return records, nil
}

func (w wireRecord) toRecord(pos int) (SubtitleRecord, error) {
	switch {
	case w.Index == nil:
		return SubtitleRecord{}, newParseError(StageShape, pos, `missing "index"`, nil)
	case *w.Index < 1:
		return SubtitleRecord{}, newParseError(StageShape, pos, fmt.Sprintf("index %d is not positive", *w.Index), nil)
	case w.Content == nil:
		return SubtitleRecord{}, newParseError(StageShape, pos, `missing "content"`, nil)
	case w.Translated == nil:
		return SubtitleRecord{}, newParseError(StageShape, pos, `missing "translated"`, nil)
	}

	record := SubtitleRecord{
		Index:      *w.Index,
		Content:    *w.Content,
		Translated: *w.Translated,
	}
	if w.Actor != nil {
		record.Actor = *w.Actor
	}
	if w.Timestamp != nil {
		record.Timestamp = *w.Timestamp
	}
	return record, nil
}

func classifyDecodeError(err error) *ParseError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return newParseError(StageShape, -1, fmt.Sprintf("field %q has the wrong type", typeErr.Field), err)
	}
	if strings.HasPrefix(err.Error(), "json: unknown field") {
		return newParseError(StageShape, -1, "unexpected field", err)
	}
	return newParseError(StageSyntax, -1, "invalid JSON", err)
}
