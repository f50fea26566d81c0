package pipeline

import (
	"encoding/json"
	"strings"
	"testing"
)

func decodeDoc(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return doc
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want Format
	}{
		{"chatgpt", `[{"title":"t","mapping":{}}]`, FormatChatGPT},
		{"claude_array", `[{"uuid":"u","chat_messages":[]}]`, FormatClaude},
		{"claude_object", `{"uuid":"u","chat_messages":[]}`, FormatClaude},
		{"lechat_array", `[{"role":"user","content":"salut"}]`, FormatLeChat},
		{"lechat_object", `{"title":"t","messages":[]}`, FormatLeChat},
		{"lechat_exchanges", `{"exchanges":[]}`, FormatLeChat},
		{"scalar", `42`, FormatUnknown},
		{"string_doc", `"hello"`, FormatUnknown},
		{"empty_array", `[]`, FormatUnknown},
		{"array_of_scalars", `[1,2,3]`, FormatUnknown},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := DetectFormat(decodeDoc(t, tc.raw), "x.json")
			if got != tc.want {
				t.Fatalf("DetectFormat=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestDetectFormat_MalformedNeverPanics(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`[null]`,
		`[{"mapping":null}]`,
		`{"chat_messages":"not an array"}`,
		`{"messages":42}`,
		`[[]]`,
	} {
		_ = DetectFormat(decodeDoc(t, raw), "x.json")
	}
}

func TestChatGPT_ExtractMessagesDocumentOrder(t *testing.T) {
	t.Parallel()

	// Keys deliberately out of lexical order: extraction must follow the
	// document, not the sorted keys.
	raw := `[{"title":"t","mapping":{
		"zzz":{"message":{"content":{"content_type":"text","parts":["premier"]}}},
		"aaa":{"message":{"content":{"content_type":"text","parts":["deuxième"]}}},
		"mmm":{"message":null},
		"kkk":{"message":{"content":{"content_type":"text","parts":["troisième"]}}}
	}}]`

	convs := chatGPTSchema{}.Load(decodeDoc(t, raw), []byte(raw), "export.json")
	if len(convs) != 1 {
		t.Fatalf("len(convs)=%d, want 1", len(convs))
	}

	got := ExtractMessages(convs[0])
	want := []string{"premier", "deuxième", "troisième"}
	if len(got) != len(want) {
		t.Fatalf("messages=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("messages[%d]=%q, want %q", i, got[i], want[i])
		}
	}
}

func TestChatGPT_MultiPartContentJoined(t *testing.T) {
	t.Parallel()

	raw := `[{"title":"t","mapping":{
		"a":{"message":{"content":{"parts":["un","deux",42]}}}
	}}]`
	convs := chatGPTSchema{}.Load(decodeDoc(t, raw), []byte(raw), "export.json")
	got := ExtractMessages(convs[0])
	if len(got) != 1 || got[0] != "un\ndeux" {
		t.Fatalf("messages=%v, want [un\\ndeux]", got)
	}
}

func TestChatGPT_MessageCountSkipsNullNodes(t *testing.T) {
	t.Parallel()

	raw := `[{"mapping":{
		"a":{"message":{"content":{"parts":["x"]}}},
		"b":{"message":null},
		"c":{}
	}}]`
	convs := chatGPTSchema{}.Load(decodeDoc(t, raw), []byte(raw), "export.json")
	if n := (chatGPTSchema{}).MessageCount(convs[0]); n != 1 {
		t.Fatalf("MessageCount=%d, want 1", n)
	}
}

func TestClaude_FallbackTitleFromUUID(t *testing.T) {
	t.Parallel()

	raw := `{"uuid":"abcdef1234567890","chat_messages":[{"text":"bonjour"}]}`
	convs := claudeSchema{}.Load(decodeDoc(t, raw), []byte(raw), "claude.json")
	if len(convs) != 1 {
		t.Fatalf("len(convs)=%d, want 1", len(convs))
	}
	if convs[0].Title != "Claude - abcdef12" {
		t.Fatalf("Title=%q, want %q", convs[0].Title, "Claude - abcdef12")
	}
}

func TestClaude_FallbackTitleWithoutUUID(t *testing.T) {
	t.Parallel()

	raw := `{"chat_messages":[]}`
	convs := claudeSchema{}.Load(decodeDoc(t, raw), []byte(raw), "claude.json")
	if convs[0].Title != "Claude - "+DefaultTitle {
		t.Fatalf("Title=%q", convs[0].Title)
	}
}

func TestClaude_ExtractMessagesContentBlocks(t *testing.T) {
	t.Parallel()

	raw := `{"name":"n","chat_messages":[
		{"text":"plat"},
		{"content":[{"type":"text","text":"bloc un"},{"type":"text","text":"bloc deux"}]},
		{"content":[]}
	]}`
	convs := claudeSchema{}.Load(decodeDoc(t, raw), []byte(raw), "claude.json")
	got := ExtractMessages(convs[0])
	if len(got) != 2 || got[0] != "plat" || got[1] != "bloc un\nbloc deux" {
		t.Fatalf("messages=%v", got)
	}
}

func TestLeChat_TitleFromFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		file string
		want string
	}{
		{"chat-vacances.json", "vacances"},
		{"AI_exportation_projet.json", "projet"},
		{"mistral_conversations.json", "mistral"},
		{"chat-.json", "Conversation LeChat"},
		{"notes.json", "notes"},
	}
	for _, tc := range cases {
		raw := `[{"role":"user","content":"salut"}]`
		convs := leChatSchema{}.Load(decodeDoc(t, raw), []byte(raw), tc.file)
		if len(convs) != 1 {
			t.Fatalf("%s: len(convs)=%d, want 1", tc.file, len(convs))
		}
		if convs[0].Title != tc.want {
			t.Fatalf("%s: Title=%q, want %q", tc.file, convs[0].Title, tc.want)
		}
	}
}

func TestLeChat_ExtractMessagesFieldFallbacks(t *testing.T) {
	t.Parallel()

	raw := `{"title":"t","messages":[
		{"content":"par content"},
		{"text":"par text"},
		{"message":"par message"},
		{"body":"par body"},
		"chaîne brute",
		{"role":"user"}
	]}`
	convs := leChatSchema{}.Load(decodeDoc(t, raw), []byte(raw), "t.json")
	got := ExtractMessages(convs[0])
	want := []string{"par content", "par text", "par message", "par body", "chaîne brute"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("messages=%v, want %v", got, want)
	}
}

func TestLeChat_ExchangesContainer(t *testing.T) {
	t.Parallel()

	raw := `{"title":"t","exchanges":[{"content":"a"},{"content":"b"}]}`
	convs := leChatSchema{}.Load(decodeDoc(t, raw), []byte(raw), "t.json")
	if n := (leChatSchema{}).MessageCount(convs[0]); n != 2 {
		t.Fatalf("MessageCount=%d, want 2", n)
	}
}

func TestDisplayTitle_FallbackChain(t *testing.T) {
	t.Parallel()

	if got := displayTitle(map[string]any{"title": "a", "name": "b"}); got != "a" {
		t.Fatalf("got %q", got)
	}
	if got := displayTitle(map[string]any{"name": "b"}); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := displayTitle(map[string]any{}); got != DefaultTitle {
		t.Fatalf("got %q", got)
	}
}
