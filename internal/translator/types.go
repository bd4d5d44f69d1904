package translator

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
	"github.com/hasferrr/mitsuko-client-sub003/internal/termmap"
)

// Request is one batch of subtitles to translate in a single streamed
// completion.
type Request struct {
	// SourceLanguage is detected from the subtitle text when left undefined.
	SourceLanguage language.Tag                `json:"source_language"`
	TargetLanguage language.Tag                `json:"target_language"`
	Context        string                      `json:"context,omitempty"`
	Subtitles      []jsonstream.SubtitleRecord `json:"subtitles"`
	// Glossary terms found in the subtitles are pinned in the prompt.
	Glossary termmap.TermMap `json:"glossary,omitempty"`
}

func (r Request) Validate() error {
	if r.TargetLanguage == language.Und {
		return fmt.Errorf("target language is required")
	}
	if len(r.Subtitles) == 0 {
		return fmt.Errorf("at least one subtitle is required")
	}
	seen := make(map[int]struct{}, len(r.Subtitles))
	for i, sub := range r.Subtitles {
		if sub.Index < 1 {
			return fmt.Errorf("subtitle %d: index must be positive", i)
		}
		if _, dup := seen[sub.Index]; dup {
			return fmt.Errorf("subtitle %d: duplicate index %d", i, sub.Index)
		}
		seen[sub.Index] = struct{}{}
	}
	return nil
}

// ParseLanguage parses a BCP 47 tag, treating blank input as undefined.
func ParseLanguage(s string) (language.Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return language.Und, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, fmt.Errorf("invalid language %q: %w", s, err)
	}
	return tag, nil
}
