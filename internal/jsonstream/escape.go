package jsonstream

// IsEscaped reports whether the byte at index is preceded by an odd run of
// backslashes. Backslashes cancel out in pairs, so `\\"` leaves the quote
// unescaped while `\"` and `\\\"` escape it.
func IsEscaped(text string, index int) bool {
	if index <= 0 || index > len(text) {
		return false
	}
	count := 0
	for i := index - 1; i >= 0 && text[i] == '\\'; i-- {
		count++
	}
	return count%2 == 1
}
