package ai

import "testing"

func TestParseStructuredStages(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantKind ParseKind
		wantText string
	}{
		{
			name:     "strict object",
			raw:      `{"question": "How will you price the enterprise tier?"}`,
			wantKind: ParsedObject,
			wantText: "How will you price the enterprise tier?",
		},
		{
			name:     "object inside prose",
			raw:      "Sure! Here you go:\n```json\n{\"question\": \"What happens when traffic doubles?\"}\n```",
			wantKind: ExtractedObject,
			wantText: "What happens when traffic doubles?",
		},
		{
			name:     "braces inside string value",
			raw:      `note {"question": "Why store {config} in the client?"} trailing {}`,
			wantKind: ExtractedObject,
			wantText: "Why store {config} in the client?",
		},
		{
			name:     "plain text",
			raw:      "  How do you acquire your first hundred users?  ",
			wantKind: RawText,
			wantText: "How do you acquire your first hundred users?",
		},
		{
			name:     "broken json falls back to raw text",
			raw:      `{"question": "unterminated`,
			wantKind: RawText,
			wantText: `{"question": "unterminated`,
		},
		{
			name:     "empty",
			raw:      "   ",
			wantKind: ParseFailed,
		},
		{
			name:     "object without field",
			raw:      `{"judge": "Marcus"}`,
			wantKind: ParseFailed,
		},
		{
			name:     "object with blank field",
			raw:      `{"question": "   "}`,
			wantKind: ParseFailed,
		},
		{
			name:     "non string field",
			raw:      `{"question": 42}`,
			wantKind: ParseFailed,
		},
	}

	for _, tc := range cases {
		got := ParseStructured(tc.raw, QuestionField)
		if got.Kind != tc.wantKind {
			t.Fatalf("%s: kind = %s, want %s", tc.name, got.Kind, tc.wantKind)
		}
		if got.Text != tc.wantText {
			t.Fatalf("%s: text = %q, want %q", tc.name, got.Text, tc.wantText)
		}
		if got.OK() != (tc.wantKind != ParseFailed) {
			t.Fatalf("%s: OK() = %v", tc.name, got.OK())
		}
	}
}

func TestExtractObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: `abc {"a": {"b": 1}} def`, want: `{"a": {"b": 1}}`, ok: true},
		{in: `{"a": "x\"}y"}`, want: `{"a": "x\"}y"}`, ok: true},
		{in: `no object here`, ok: false},
		{in: `{"a": 1`, ok: false},
	}

	for _, tc := range cases {
		got, ok := ExtractObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ExtractObject(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
