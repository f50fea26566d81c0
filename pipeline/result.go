package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/invopop/jsonschema"
)

// ResultRecord is one execution outcome. Field names on the wire keep the
// French vocabulary of the historical exports so downstream spreadsheets keep
// working.
type ResultRecord struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	OriginalTitle  string         `json:"titre_original"`
	Title          string         `json:"titre"`
	Part           string         `json:"partie"`
	SourceFile     string         `json:"fichier_source"`
	SourceFormat   string         `json:"format"`
	Success        bool           `json:"success"`
	Response       string         `json:"response"`
	Error          string         `json:"error,omitempty"`
	TokenCount     int            `json:"token_count"`
	ModelUsed      string         `json:"model_used,omitempty"`
	Usage          map[string]any `json:"tokens_used,omitempty"`
}

// csvHeader fixes the CSV column order. Changing it breaks downstream
// imports, so it stays stable even as the record grows.
var csvHeader = []string{
	"conversation_id",
	"titre_original",
	"titre",
	"partie",
	"response",
	"success",
	"error",
	"token_count",
	"fichier_source",
	"format",
	"model_used",
}

// SaveCSV renders records as a CSV file with a fixed header row. Embedded
// quotes, separators and newlines in responses survive round-trips through
// the standard escaping.
func SaveCSV(path string, records []ResultRecord) error {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.ConversationID,
			rec.OriginalTitle,
			rec.Title,
			rec.Part,
			rec.Response,
			strconv.FormatBool(rec.Success),
			rec.Error,
			strconv.Itoa(rec.TokenCount),
			rec.SourceFile,
			rec.SourceFormat,
			rec.ModelUsed,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	return writeFileAtomicSameDir(path, []byte(buf.String()), 0o644)
}

// SaveJSON renders records as an indented JSON array. When emitSchema is set
// a JSON Schema describing the record shape is written alongside as
// <path>.schema.json.
func SaveJSON(path string, records []ResultRecord, emitSchema bool) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := writeFileAtomicSameDir(path, data, 0o644); err != nil {
		return err
	}

	if emitSchema {
		schema, err := ResultRecordSchema()
		if err != nil {
			return err
		}
		if err := writeFileAtomicSameDir(path+".schema.json", schema, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// ResultRecordSchema reflects the record type into a self-contained JSON
// Schema document.
func ResultRecordSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := r.Reflect(&ResultRecord{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result schema: %w", err)
	}
	return data, nil
}

// SaveTXT renders records as a plain-text report with one block per record.
func SaveTXT(path string, records []ResultRecord, promptName string) error {
	sep := strings.Repeat("=", 80)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", sep)
	fmt.Fprintf(&b, "RÉSULTATS D'EXÉCUTION - %s\n", promptName)
	fmt.Fprintf(&b, "Généré le: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Conversations traitées: %d\n", len(records))
	fmt.Fprintf(&b, "%s\n\n", sep)

	for i, rec := range records {
		fmt.Fprintf(&b, "[%d/%d] %s\n", i+1, len(records), rec.Title)
		if rec.Part != "" && rec.Part != "1/1" {
			fmt.Fprintf(&b, "Partie: %s\n", rec.Part)
		}
		fmt.Fprintf(&b, "Source: %s (%s)\n", rec.SourceFile, rec.SourceFormat)
		fmt.Fprintf(&b, "Tokens: %d\n", rec.TokenCount)
		if rec.Success {
			fmt.Fprintf(&b, "\n%s\n", rec.Response)
		} else {
			fmt.Fprintf(&b, "ÉCHEC: %s\n", rec.Error)
		}
		fmt.Fprintf(&b, "\n%s\n\n", sep)
	}

	return writeFileAtomicSameDir(path, []byte(b.String()), 0o644)
}

// SaveMarkdown renders records as a Markdown report with a linked table of
// contents.
func SaveMarkdown(path string, records []ResultRecord, promptName string) error {
	success := 0
	for _, rec := range records {
		if rec.Success {
			success++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Résultats d'exécution - %s\n\n", promptName)
	fmt.Fprintf(&b, "**Date:** %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Conversations:** %d (%d réussies, %d en échec)\n\n", len(records), success, len(records)-success)

	b.WriteString("## Sommaire\n\n")
	for i, rec := range records {
		heading := recordHeading(i, rec)
		fmt.Fprintf(&b, "%d. [%s](#%s)\n", i+1, heading, markdownAnchor(heading))
	}
	b.WriteString("\n---\n\n")

	for i, rec := range records {
		fmt.Fprintf(&b, "## %s\n\n", recordHeading(i, rec))
		fmt.Fprintf(&b, "- **Source:** %s\n", rec.SourceFile)
		fmt.Fprintf(&b, "- **Format:** %s\n", rec.SourceFormat)
		fmt.Fprintf(&b, "- **Tokens:** %d\n", rec.TokenCount)
		if rec.Success {
			b.WriteString("- **Statut:** succès\n\n")
			fmt.Fprintf(&b, "%s\n\n", rec.Response)
		} else {
			b.WriteString("- **Statut:** échec\n\n")
			fmt.Fprintf(&b, "> %s\n\n", rec.Error)
		}
		b.WriteString("---\n\n")
	}

	return writeFileAtomicSameDir(path, []byte(b.String()), 0o644)
}

func recordHeading(i int, rec ResultRecord) string {
	return fmt.Sprintf("%d. %s", i+1, rec.Title)
}

// markdownAnchor mirrors the anchor derivation common to Markdown renderers:
// lowercase, spaces to hyphens, punctuation dropped. Letters and digits keep
// their Unicode identity so accented headings stay linkable.
func markdownAnchor(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(heading) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune('-')
		}
	}
	return b.String()
}
