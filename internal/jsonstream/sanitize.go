package jsonstream

import "strings"

const (
	errorOpenTag  = "<error>"
	errorCloseTag = "</error>"
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
	codeFence     = "```"
	jsonCodeFence = "```json"
)

// KeepOnlyWrapped returns the span from the first startTag through the first
// endTag after it, both tags included. It returns "" if either tag is missing.
func KeepOnlyWrapped(text, startTag, endTag string) string {
	if startTag == "" || endTag == "" {
		return ""
	}
	start := strings.Index(text, startTag)
	if start < 0 {
		return ""
	}
	rest := start + len(startTag)
	end := strings.Index(text[rest:], endTag)
	if end < 0 {
		return ""
	}
	return text[start : rest+end+len(endTag)]
}

// RemoveWrapped deletes the first startTag...endTag span, tags included.
// Matching is literal; the payload between the tags is never inspected.
func RemoveWrapped(text, startTag, endTag string) string {
	if startTag == "" || endTag == "" {
		return text
	}
	start := strings.Index(text, startTag)
	if start < 0 {
		return text
	}
	rest := start + len(startTag)
	end := strings.Index(text[rest:], endTag)
	if end < 0 {
		return text
	}
	return text[:start] + text[rest+end+len(endTag):]
}

func removeAllWrapped(text, startTag, endTag string) string {
	for {
		next := RemoveWrapped(text, startTag, endTag)
		if next == text {
			return text
		}
		text = next
	}
}

// CleanUpJSONResponse strips the non-JSON noise a model or backend wraps
// around the payload: <error> diagnostics, leading <think> segments and
// Markdown code fences. Thinking tags and fences only count when they open
// before the first '{', so the same text inside a subtitle string is left
// alone.
func CleanUpJSONResponse(text string) string {
	text = removeAllWrapped(text, errorOpenTag, errorCloseTag)
	text = stripThinking(text)

	if opensBeforePayload(text, jsonCodeFence) {
		return fencedBody(text, jsonCodeFence)
	}
	if opensBeforePayload(text, codeFence) {
		return dropInfoString(fencedBody(text, codeFence))
	}
	return strings.TrimSpace(text)
}

// stripThinking removes thinking segments that open before the payload. One
// that has not been closed yet swallows the rest of the text.
func stripThinking(text string) string {
	for opensBeforePayload(text, thinkOpenTag) {
		start := strings.Index(text, thinkOpenTag)
		rest := start + len(thinkOpenTag)
		end := strings.Index(text[rest:], thinkCloseTag)
		if end < 0 {
			return text[:start]
		}
		text = text[:start] + text[rest+end+len(thinkCloseTag):]
	}
	return text
}

// opensBeforePayload reports whether tag occurs before the first '{'.
func opensBeforePayload(text, tag string) bool {
	idx := strings.Index(text, tag)
	if idx < 0 {
		return false
	}
	brace := strings.IndexByte(text, '{')
	return brace < 0 || idx < brace
}

// fencedBody returns the trimmed content of the first fence opened by
// openTag. While streaming the closing fence may not have arrived yet, in
// which case everything after the opening tag is returned.
func fencedBody(text, openTag string) string {
	if block := KeepOnlyWrapped(text, openTag, codeFence); block != "" {
		return strings.TrimSpace(block[len(openTag) : len(block)-len(codeFence)])
	}
	start := strings.Index(text, openTag)
	return strings.TrimSpace(text[start+len(openTag):])
}

// dropInfoString removes a language tag such as "javascript" left on the
// first line of an untagged fence.
func dropInfoString(body string) string {
	nl := strings.IndexByte(body, '\n')
	if nl <= 0 {
		return body
	}
	for _, r := range body[:nl] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return body
		}
	}
	return strings.TrimSpace(body[nl+1:])
}
