package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrPromptNotFound reports a named prompt with no backing file. It is a
// reported condition, not a crash: the caller decides whether the run can
// continue (it cannot, since no prompt means no work).
var ErrPromptNotFound = errors.New("prompt not found")

const (
	promptFilePrefix = "prompt_"
	promptFileExt    = ".txt"

	systemMarker = "---SYSTEM---"
	userMarker   = "---USER---"
)

// PromptLoader resolves named prompt templates against a directory using the
// prompt_<name>.txt convention.
type PromptLoader struct {
	Dir string
}

// List returns the available prompt names, sorted, with the naming
// convention stripped.
func (l PromptLoader) List() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list prompts: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, promptFilePrefix) || !strings.HasSuffix(name, promptFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(name, promptFilePrefix), promptFileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads a named prompt, adding the prompt_ prefix when absent. A
// missing file yields ErrPromptNotFound.
func (l PromptLoader) Load(name string) (string, error) {
	file := name
	if !strings.HasPrefix(file, promptFilePrefix) {
		file = promptFilePrefix + file
	}
	path := filepath.Join(l.Dir, file+promptFileExt)

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
		}
		return "", fmt.Errorf("read prompt %s: %w", name, err)
	}
	return string(b), nil
}

// FormatPrompt substitutes the recognized placeholder tokens with the
// fragment's values. Unrecognized placeholder-like text is left verbatim.
// The template itself is never mutated; the result is a new string.
func FormatPrompt(template string, frag Fragment) string {
	replacer := strings.NewReplacer(
		"{CONVERSATION_TEXT}", strings.Join(frag.Messages, "\n\n"),
		"{TITLE}", frag.Title,
		"{MESSAGE_COUNT}", strconv.Itoa(len(frag.Messages)),
		"{TOKEN_COUNT}", strconv.Itoa(frag.TokenCount),
		"{FORMAT}", strings.ToUpper(string(frag.Format)),
		"{FILE}", frag.SourceFile,
	)
	return replacer.Replace(template)
}

// ParseSystemUser splits a formatted prompt into system and user segments.
// Both markers must be present; a document with only one marker is treated
// as having no segmentation and returned whole.
func ParseSystemUser(prompt string) (system, user string, hasSystem bool) {
	if strings.Contains(prompt, systemMarker) && strings.Contains(prompt, userMarker) {
		_, after, _ := strings.Cut(prompt, systemMarker)
		systemPart, userPart, _ := strings.Cut(after, userMarker)
		return strings.TrimSpace(systemPart), strings.TrimSpace(userPart), true
	}
	return "", strings.TrimSpace(prompt), false
}

// defaultPrompts ship as starter templates for -init-prompts.
var defaultPrompts = map[string]string{
	"prompt_resume.txt": `Tu es un expert en résumé de conversations.

Analyse cette conversation et fournis un résumé structuré.

Conversation:
{CONVERSATION_TEXT}

Format attendu:
1. Résumé en 3 points clés
2. Sujets principaux abordés
3. Conclusions ou décisions importantes

Sois concis et factuel.`,

	"prompt_extract_topics.txt": `Tu es un analyste de contenu.

Extrait les sujets principaux de cette conversation.

Conversation:
{CONVERSATION_TEXT}

Liste uniquement les sujets, un par ligne, sans numérotation.`,

	"prompt_questions.txt": `Tu es un assistant d'analyse.

Identifie dans cette conversation:
1. Les questions posées par l'utilisateur
2. Les questions qui nécessitent un suivi

Conversation:
{CONVERSATION_TEXT}

Format: liste à puces.`,
}

// WriteDefaultPrompts creates the starter prompt files that do not already
// exist and returns the names it wrote.
func WriteDefaultPrompts(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir prompt dir: %w", err)
	}

	var created []string
	for name, content := range defaultPrompts {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			continue
		}
		if err := writeFileAtomicSameDir(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write prompt %s: %w", name, err)
		}
		created = append(created, name)
	}
	sort.Strings(created)
	return created, nil
}
