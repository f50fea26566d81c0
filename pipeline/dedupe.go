package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// DuplicateRef identifies one side of a duplicate pair.
type DuplicateRef struct {
	Index  int    `json:"index"`
	Title  string `json:"titre"`
	File   string `json:"fichier"`
	Format Format `json:"format"`
}

// DuplicateEntry records one dropped conversation and the original it repeats.
type DuplicateEntry struct {
	Original    DuplicateRef `json:"original"`
	Duplicate   DuplicateRef `json:"doublon"`
	Fingerprint string       `json:"hash"`
}

// DedupeReport is the outcome of one deduplication pass.
type DedupeReport struct {
	Unique         []Conversation
	Duplicates     []DuplicateEntry
	Total          int
	UniqueCount    int
	DuplicateCount int
}

// Fingerprint computes a deterministic digest over the conversation's content
// fields: title, identifier, creation timestamp and per-schema message count.
// It never depends on the source file, so identical conversations loaded from
// different files still collide.
func Fingerprint(c Conversation) string {
	var parts []string

	if title := payloadTitle(c.Payload); title != "" {
		parts = append(parts, "title:"+title)
	}
	if id := firstStringField(c.Payload, "id", "uuid", "conversation_id"); id != "" {
		parts = append(parts, "id:"+id)
	}
	if created := firstScalarField(c.Payload, "create_time", "created_at", "createdAt"); created != "" {
		parts = append(parts, "created:"+created)
	}

	count := 0
	if s := SchemaFor(c.Format); s != nil {
		count = s.MessageCount(c)
	}
	parts = append(parts, fmt.Sprintf("msgs:%d", count))

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Deduplicate keeps the first-seen conversation per fingerprint, in load
// order, and reports every later repeat. Duplicates are dropped, never
// merged.
func Deduplicate(convs []Conversation) DedupeReport {
	firstSeen := make(map[string]int, len(convs))
	report := DedupeReport{Total: len(convs)}

	for idx, conv := range convs {
		fp := Fingerprint(conv)
		origIdx, dup := firstSeen[fp]
		if !dup {
			firstSeen[fp] = idx
			report.Unique = append(report.Unique, conv)
			continue
		}
		orig := convs[origIdx]
		report.Duplicates = append(report.Duplicates, DuplicateEntry{
			Original: DuplicateRef{
				Index:  origIdx,
				Title:  orig.Title,
				File:   orig.SourceFile,
				Format: orig.Format,
			},
			Duplicate: DuplicateRef{
				Index:  idx,
				Title:  conv.Title,
				File:   conv.SourceFile,
				Format: conv.Format,
			},
			Fingerprint: fp,
		})
	}

	report.UniqueCount = len(report.Unique)
	report.DuplicateCount = len(report.Duplicates)
	return report
}

func payloadTitle(m map[string]any) string {
	if t := stringField(m, "title"); t != "" {
		return t
	}
	return stringField(m, "name")
}

func firstStringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(m, key); v != "" {
			return v
		}
	}
	return ""
}

// firstScalarField stringifies the first present scalar among keys. JSON
// numbers arrive as float64; integral values print without an exponent so
// the digest stays stable across schema variants.
func firstScalarField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
