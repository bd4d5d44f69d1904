package session

import "strings"

// Buffer accumulates the chunks of one streamed response. It only grows.
type Buffer struct {
	sb     strings.Builder
	chunks int
}

func (b *Buffer) Append(chunk string) {
	b.sb.WriteString(chunk)
	b.chunks++
}

func (b *Buffer) String() string {
	return b.sb.String()
}

func (b *Buffer) Len() int {
	return b.sb.Len()
}

// Chunks returns how many chunks were appended, empty ones included.
func (b *Buffer) Chunks() int {
	return b.chunks
}
