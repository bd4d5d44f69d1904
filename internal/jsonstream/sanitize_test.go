package jsonstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeepOnlyWrapped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		start string
		end   string
		want  string
	}{
		{name: "fence", text: "pre ```json\n{}\n``` post", start: "```json", end: "```", want: "```json\n{}\n```"},
		{name: "first end only", text: "<b64>QUJD</b64><b64>REVG</b64>", start: "<b64>", end: "</b64>", want: "<b64>QUJD</b64>"},
		{name: "missing end", text: "```json\n{}", start: "```json", end: "```", want: ""},
		{name: "missing start", text: "{}\n```", start: "```json", end: "```", want: ""},
		{name: "end before start", text: "</x> <x>", start: "<x>", end: "</x>", want: ""},
		{name: "empty tag", text: "abc", start: "", end: "c", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeepOnlyWrapped(tt.text, tt.start, tt.end))
		})
	}
}

func TestRemoveWrapped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "first only", text: "a<error>x</error>b<error>y</error>c", want: "ab<error>y</error>c"},
		{name: "multi line payload", text: "<error>line 1\n{\"code\": 429}\n</error>{}", want: "{}"},
		{name: "missing end", text: "a<error>x", want: "a<error>x"},
		{name: "missing start", text: "a</error>x", want: "a</error>x"},
		{name: "no tags", text: `{"subtitles":[]}`, want: `{"subtitles":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveWrapped(tt.text, "<error>", "</error>"))
		})
	}
}

func TestCleanUpJSONResponse(t *testing.T) {
	t.Parallel()

	doc := `{"subtitles":[{"index":1,"content":"a","translated":"b"}]}`

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "plain passthrough",
			text: "  " + doc + "\n",
			want: doc,
		},
		{
			name: "every error span removed",
			text: `<error>{"message":"rate \"limit\"","code":429}</error>` + doc + "<error>[An error occurred: timeout]</error>",
			want: doc,
		},
		{
			name: "json fence",
			text: "```json\n" + doc + "\n```",
			want: doc,
		},
		{
			name: "json fence with prose",
			text: "Here you go:\n```json\n" + doc + "\n```\nEnjoy!",
			want: doc,
		},
		{
			name: "untagged fence",
			text: "```\n" + doc + "\n```",
			want: doc,
		},
		{
			name: "untagged fence with other language",
			text: "```javascript\n" + doc + "\n```",
			want: doc,
		},
		{
			name: "json fence preferred over earlier untagged",
			text: "```\nnot this\n```\n```json\n" + doc + "\n```",
			want: doc,
		},
		{
			name: "open fence while streaming",
			text: "```json\n{\"subtitles\":[{\"index\":1",
			want: "{\"subtitles\":[{\"index\":1",
		},
		{
			name: "thinking removed",
			text: "<think>draft {\"subtitles\":[{\"index\":9}]}</think>\n" + doc,
			want: doc,
		},
		{
			name: "unclosed thinking",
			text: "<think>still reasoning about {\"subtitles\"",
			want: "",
		},
		{
			name: "think tag inside a subtitle",
			text: `{"subtitles":[{"index":1,"content":"the <think> tag","translated":"x"}]}`,
			want: `{"subtitles":[{"index":1,"content":"the <think> tag","translated":"x"}]}`,
		},
		{
			name: "backticks inside a subtitle",
			text: "{\"subtitles\":[{\"index\":1,\"content\":\"use ```go\",\"translated\":\"x\"}]}",
			want: "{\"subtitles\":[{\"index\":1,\"content\":\"use ```go\",\"translated\":\"x\"}]}",
		},
		{
			name: "error inside fence",
			text: "```json\n<error>oops</error>" + doc + "\n```",
			want: doc,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanUpJSONResponse(tt.text))
		})
	}
}
