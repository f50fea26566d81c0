package pipeline

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
)

// LoadStats tallies one load pass over the input files.
type LoadStats struct {
	PerFormat map[Format]int
	Errors    int
}

// LoadConversationFiles reads each path as UTF-8 JSON and wraps the documents
// into conversations. force selects a schema unconditionally; FormatAuto
// detects per file. Unreadable or malformed files are logged and counted,
// never fatal to the run.
func LoadConversationFiles(paths []string, force Format, logger zerolog.Logger) ([]Conversation, LoadStats) {
	stats := LoadStats{PerFormat: map[Format]int{}}
	var all []Conversation

	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Error().Err(err).Str("file", path).Msg("read input file")
			stats.Errors++
			continue
		}

		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			logger.Error().Err(err).Str("file", path).Msg("parse input file")
			stats.Errors++
			continue
		}

		format := force
		if format == FormatAuto || format == "" {
			format = DetectFormat(doc, path)
		}
		stats.PerFormat[format]++

		schema := SchemaFor(format)
		if schema == nil {
			logger.Warn().Str("file", path).Msg("unknown export format")
			continue
		}

		convs := schema.Load(doc, b, path)
		logger.Info().Str("file", path).Str("format", string(format)).
			Int("conversations", len(convs)).Msg("loaded input file")
		all = append(all, convs...)
	}

	return all, stats
}
