package jsonstream

// SubtitleRecord is one translated subtitle line as emitted by the model.
type SubtitleRecord struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	Translated string `json:"translated"`
	Actor      string `json:"actor,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// RepairResult is the document shape every repaired or validated response has.
type RepairResult struct {
	Subtitles []SubtitleRecord `json:"subtitles"`
}

const (
	// SubtitlesKey is the single top-level key of a translation document.
	SubtitlesKey = "subtitles"

	// EmptyDocument is what RepairJSON returns when nothing can be recovered.
	EmptyDocument = `{"subtitles":[]}`

	// FailedToParseMarker is appended to the displayed raw output when the
	// final buffer does not validate.
	FailedToParseMarker = "[Failed to parse]"
)

// wireRecord mirrors SubtitleRecord with pointers so missing required fields
// can be told apart from zero values.
type wireRecord struct {
	Index      *int    `json:"index"`
	Content    *string `json:"content"`
	Translated *string `json:"translated"`
	Actor      *string `json:"actor,omitempty"`
	Timestamp  *string `json:"timestamp,omitempty"`
}

type wireDocument struct {
	Subtitles *[]wireRecord `json:"subtitles"`
}
