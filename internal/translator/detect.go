package translator

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
)

// DetectLanguage votes over the per-line detections of the subtitle content.
func DetectLanguage(subtitles []jsonstream.SubtitleRecord) language.Tag {
	votes := make(map[string]int)
	for _, sub := range subtitles {
		text := strings.TrimSpace(sub.Content)
		if text == "" {
			continue
		}
		lang := whatlanggo.DetectLang(text).Iso6391()
		if lang == "" {
			continue
		}
		votes[lang]++
	}

	var topLang string
	var topCount int
	for lang, count := range votes {
		// ties go to the smaller code so detection is deterministic
		if count > topCount || (count == topCount && lang < topLang) {
			topLang = lang
			topCount = count
		}
	}
	if topLang == "" {
		return language.Und
	}
	return language.All.Make(topLang)
}
