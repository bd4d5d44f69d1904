package termmap

// TermMap maps source language terms to target language terms.
type TermMap map[string]string

// Term is one glossary entry.
type Term struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
