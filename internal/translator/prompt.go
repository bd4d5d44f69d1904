package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
	"github.com/hasferrr/mitsuko-client-sub003/internal/llm"
	"github.com/hasferrr/mitsuko-client-sub003/internal/termmap"
)

// Messages builds the chat messages for req. An undefined source language is
// detected first.
func Messages(req Request) ([]llm.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.SourceLanguage == language.Und {
		req.SourceLanguage = DetectLanguage(req.Subtitles)
	}

	userMessage, err := BuildUserMessage(req.Subtitles)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: BuildSystemPrompt(req)},
		{Role: llm.RoleUser, Content: userMessage},
	}, nil
}

// BuildUserMessage serializes the subtitles in the exact shape the model has
// to answer with, translations left empty.
func BuildUserMessage(subtitles []jsonstream.SubtitleRecord) (string, error) {
	input := make([]jsonstream.SubtitleRecord, 0, len(subtitles))
	for _, sub := range subtitles {
		sub.Translated = ""
		input = append(input, sub)
	}
	payload, err := json.Marshal(jsonstream.RepairResult{Subtitles: input})
	if err != nil {
		return "", fmt.Errorf("marshal subtitles: %w", err)
	}
	return string(payload), nil
}

func BuildSystemPrompt(req Request) string {
	source := languageName(req.SourceLanguage)
	target := languageName(req.TargetLanguage)

	var prompt strings.Builder

	prompt.WriteString("You are a professional subtitle translator. Translate subtitles from " + source + " to " + target + ".\n\n")

	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		prompt.WriteString("=== CONTEXT ===\n")
		prompt.WriteString(ctx)
		prompt.WriteString("\n\n")
	}

	if terms := glossaryTerms(req); len(terms) > 0 {
		prompt.WriteString("=== TERMINOLOGY ===\n")
		prompt.WriteString("Always translate these terms exactly as given:\n")
		for _, term := range terms {
			prompt.WriteString("- " + term.Source + " -> " + term.Target + "\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("=== TRANSLATION GUIDELINES ===\n")
	prompt.WriteString("1. Keep character voice and tone consistent across lines\n")
	prompt.WriteString("2. Ensure " + target + " reads naturally while preserving meaning\n")
	prompt.WriteString("3. Keep each line short enough to read on screen\n")
	prompt.WriteString("4. Do NOT merge, split, reorder, or drop lines\n")
	prompt.WriteString("5. If a content value is empty, its translated value MUST be an empty string\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString(`Return ONLY a JSON object of the form {"subtitles":[{"index":1,"content":"...","translated":"..."}]}.` + "\n")
	prompt.WriteString("Copy index, content and any actor or timestamp fields unchanged; fill in translated.\n")
	prompt.WriteString(fmt.Sprintf("The subtitles array MUST contain exactly %d objects, in input order.\n", len(req.Subtitles)))
	prompt.WriteString("Do not include explanations, notes, or Markdown.\n")

	return prompt.String()
}

func glossaryTerms(req Request) []termmap.Term {
	if len(req.Glossary) == 0 {
		return nil
	}
	texts := make([]string, 0, len(req.Subtitles))
	for _, sub := range req.Subtitles {
		texts = append(texts, sub.Content)
	}
	return termmap.Match(req.Glossary, texts)
}

func languageName(tag language.Tag) string {
	if tag == language.Und {
		return "the source language"
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}
