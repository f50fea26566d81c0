package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatPrompt_AllPlaceholders(t *testing.T) {
	t.Parallel()

	frag := Fragment{
		Title:      "Voyage",
		SourceFile: "export.json",
		Format:     FormatChatGPT,
		Messages:   []string{"premier", "deuxième"},
		TokenCount: 42,
	}
	template := "{TITLE}|{MESSAGE_COUNT}|{TOKEN_COUNT}|{FORMAT}|{FILE}\n{CONVERSATION_TEXT}"

	got := FormatPrompt(template, frag)
	want := "Voyage|2|42|CHATGPT|export.json\npremier\n\ndeuxième"
	if got != want {
		t.Fatalf("FormatPrompt=%q, want %q", got, want)
	}
}

func TestFormatPrompt_UnknownPlaceholderVerbatim(t *testing.T) {
	t.Parallel()

	got := FormatPrompt("{TITLE} {NOPE} {title}", Fragment{Title: "X"})
	if got != "X {NOPE} {title}" {
		t.Fatalf("FormatPrompt=%q", got)
	}
}

func TestFormatPrompt_TemplateUnchanged(t *testing.T) {
	t.Parallel()

	template := "{TITLE}"
	_ = FormatPrompt(template, Fragment{Title: "A"})
	if template != "{TITLE}" {
		t.Fatalf("template mutated: %q", template)
	}
}

func TestParseSystemUser(t *testing.T) {
	t.Parallel()

	prompt := "---SYSTEM---\nTu es un assistant.\n---USER---\nRésume ceci."
	system, user, hasSystem := ParseSystemUser(prompt)
	if !hasSystem {
		t.Fatalf("hasSystem=false")
	}
	if system != "Tu es un assistant." {
		t.Fatalf("system=%q", system)
	}
	if user != "Résume ceci." {
		t.Fatalf("user=%q", user)
	}
}

func TestParseSystemUser_OneMarkerIsNotSegmented(t *testing.T) {
	t.Parallel()

	for _, prompt := range []string{
		"---SYSTEM---\nseulement système",
		"---USER---\nseulement utilisateur",
		"aucun marqueur",
	} {
		system, user, hasSystem := ParseSystemUser(prompt)
		if hasSystem {
			t.Fatalf("%q: hasSystem=true", prompt)
		}
		if system != "" {
			t.Fatalf("%q: system=%q", prompt, system)
		}
		if user != strings.TrimSpace(prompt) {
			t.Fatalf("%q: user=%q", prompt, user)
		}
	}
}

func TestPromptLoader_LoadWithAndWithoutPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "prompt_resume.txt")
	if err := os.WriteFile(path, []byte("contenu"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loader := PromptLoader{Dir: dir}
	for _, name := range []string{"resume", "prompt_resume"} {
		got, err := loader.Load(name)
		if err != nil {
			t.Fatalf("Load(%q): %v", name, err)
		}
		if got != "contenu" {
			t.Fatalf("Load(%q)=%q", name, got)
		}
	}
}

func TestPromptLoader_NotFound(t *testing.T) {
	t.Parallel()

	loader := PromptLoader{Dir: t.TempDir()}
	_, err := loader.Load("absent")
	if !errors.Is(err, ErrPromptNotFound) {
		t.Fatalf("err=%v, want ErrPromptNotFound", err)
	}
	if !strings.Contains(err.Error(), "absent") {
		t.Fatalf("err=%v, want name in message", err)
	}
}

func TestPromptLoader_ListSortedAndFiltered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"prompt_zeta.txt", "prompt_alpha.txt", "notes.txt", "prompt_bad.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	names, err := PromptLoader{Dir: dir}.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("names=%v, want [alpha zeta]", names)
	}
}

func TestPromptLoader_ListMissingDir(t *testing.T) {
	t.Parallel()

	names, err := PromptLoader{Dir: filepath.Join(t.TempDir(), "nope")}.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if names != nil {
		t.Fatalf("names=%v, want nil", names)
	}
}

func TestWriteDefaultPrompts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	created, err := WriteDefaultPrompts(dir)
	if err != nil {
		t.Fatalf("WriteDefaultPrompts: %v", err)
	}
	if len(created) != len(defaultPrompts) {
		t.Fatalf("created=%v", created)
	}

	for name := range defaultPrompts {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(b), "{CONVERSATION_TEXT}") {
			t.Fatalf("%s is missing the conversation placeholder", name)
		}
	}

	// Existing files are never overwritten.
	marker := filepath.Join(dir, "prompt_resume.txt")
	if err := os.WriteFile(marker, []byte("personnalisé"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := WriteDefaultPrompts(dir)
	if err != nil {
		t.Fatalf("WriteDefaultPrompts again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second pass created %v", again)
	}
	b, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "personnalisé" {
		t.Fatalf("custom prompt overwritten: %q", b)
	}
}
