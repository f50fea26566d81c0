package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/convoscope/promptexec/pipeline"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	loader := pipeline.PromptLoader{Dir: cfg.PromptsDir}

	if cfg.InitPrompts {
		created, err := pipeline.WriteDefaultPrompts(cfg.PromptsDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		if len(created) == 0 {
			fmt.Fprintln(os.Stdout, "all starter prompts already exist")
			return
		}
		for _, name := range created {
			fmt.Fprintf(os.Stdout, "created %s\n", filepath.Join(cfg.PromptsDir, name))
		}
		return
	}

	if cfg.ListPrompts {
		names, err := loader.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		if len(names) == 0 {
			fmt.Fprintf(os.Stdout, "no prompts in %s (run -init-prompts to create starters)\n", cfg.PromptsDir)
			return
		}
		for _, name := range names {
			fmt.Fprintln(os.Stdout, name)
		}
		return
	}

	template, promptLabel, err := resolvePrompt(cfg, loader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if errors.Is(err, pipeline.ErrPromptNotFound) {
			if names, lerr := loader.List(); lerr == nil && len(names) > 0 {
				fmt.Fprintf(os.Stderr, "available prompts: %s\n", strings.Join(names, ", "))
			}
		}
		os.Exit(2)
	}

	if len(cfg.Files) == 0 {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.TargetLogs, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("mkdir -target-logs: %w", err).Error())
		os.Exit(2)
	}
	if err := os.MkdirAll(cfg.TargetResults, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("mkdir -target-results: %w", err).Error())
		os.Exit(2)
	}

	logPath := filepath.Join(cfg.TargetLogs, fmt.Sprintf("log.prompt_executor.%s.log", version))
	logger, logCloser, err := pipeline.NewFileLogger(logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer logCloser.Close()

	logger.Info().Str("version", version).Str("prompt", promptLabel).
		Strs("patterns", cfg.Files).Bool("simulate", cfg.Simulate).Msg("run started")

	files, err := pipeline.DiscoverFiles(cfg.Files, cfg.Recursive)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no conversation files matched")
		os.Exit(1)
	}

	convs, stats := pipeline.LoadConversationFiles(files, cfg.forcedFormat(), logger)
	if stats.Errors > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d input file(s) could not be read, see %s\n", stats.Errors, logPath)
	}
	if len(convs) == 0 {
		fmt.Fprintln(os.Stderr, "no conversations loaded")
		os.Exit(1)
	}

	report := pipeline.Deduplicate(convs)
	logger.Info().Int("total", report.Total).Int("unique", report.UniqueCount).
		Int("duplicates", report.DuplicateCount).Msg("deduplication done")

	selected := report.Unique
	if cfg.CNbr != "" {
		lo, hi, _ := parseCNbr(cfg.CNbr)
		if lo > len(selected) {
			fmt.Fprintf(os.Stderr, "-cnbr %s out of range: only %d conversations\n", cfg.CNbr, len(selected))
			os.Exit(1)
		}
		if hi > len(selected) {
			hi = len(selected)
		}
		selected = selected[lo-1 : hi]
	}

	counter := pipeline.WordTokenCounter{}
	var frags []pipeline.Fragment
	for _, conv := range selected {
		messages := pipeline.ExtractMessages(conv)
		frags = append(frags, pipeline.SplitConversation(conv, messages, cfg.MaxTokens, counter)...)
	}

	if cfg.OnlySplit || cfg.NotSplit {
		kept := frags[:0]
		for _, f := range frags {
			if f.IsSplit() == cfg.OnlySplit {
				kept = append(kept, f)
			}
		}
		frags = kept
	}
	if len(frags) == 0 {
		fmt.Fprintln(os.Stderr, "no conversations to process after filtering")
		os.Exit(1)
	}

	var service pipeline.CompletionService
	if cfg.Simulate {
		service = pipeline.NewSimulatedCompletionService(nil)
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("MISTRAL_API_KEY")
		}
		if apiKey == "" {
			fmt.Fprintln(os.Stderr, "missing MISTRAL_API_KEY (or pass -api-key, or use -simulate)")
			os.Exit(2)
		}
		service = pipeline.NewRemoteCompletionService(pipeline.RemoteOptions{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Delay:   cfg.Delay,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	}

	engine := &pipeline.Engine{
		Service: service,
		Tokens:  counter,
		Workers: cfg.Workers,
		Logger:  logger,
	}
	if !cfg.NoProgress {
		bar := progressbar.NewOptions(len(frags),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(promptLabel),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		engine.OnResult = func(pipeline.ResultRecord) {
			_ = bar.Add(1)
		}
	}

	start := time.Now()
	records := engine.Run(ctx, template, frags)
	elapsed := time.Since(start)

	outPath := cfg.OutputPath
	if outPath == "" {
		outPath = filepath.Join(cfg.TargetResults, outputFileName(promptLabel, cfg.OutputFormat, time.Now()))
	}

	var saveErr error
	switch cfg.OutputFormat {
	case "csv":
		saveErr = pipeline.SaveCSV(outPath, records)
	case "json":
		saveErr = pipeline.SaveJSON(outPath, records, cfg.EmitSchema)
	case "txt":
		saveErr = pipeline.SaveTXT(outPath, records, promptLabel)
	case "markdown":
		saveErr = pipeline.SaveMarkdown(outPath, records, promptLabel)
	}
	if saveErr != nil {
		// Persistence failure still reports the run's statistics below.
		logger.Error().Err(saveErr).Str("output", outPath).Msg("write results")
		fmt.Fprintln(os.Stderr, saveErr.Error())
	}

	success := 0
	for _, rec := range records {
		if rec.Success {
			success++
		}
	}
	failed := len(records) - success
	rate := 0.0
	if len(records) > 0 {
		rate = float64(success) / float64(len(records)) * 100
	}

	logger.Info().Int("processed", len(records)).Int("success", success).
		Int("failed", failed).Dur("elapsed", elapsed).Str("output", outPath).Msg("run finished")

	fmt.Fprintf(os.Stdout, "files=%d conversations=%d duplicates_removed=%d processed=%d success=%d failed=%d rate=%.1f%% elapsed=%s output=%s\n",
		len(files), report.Total, report.DuplicateCount, len(records), success, failed, rate, elapsed.Round(time.Second), outPath)

	if failed > 0 || saveErr != nil {
		os.Exit(1)
	}
}

// resolvePrompt returns the template text and a short label used for output
// naming.
func resolvePrompt(cfg Config, loader pipeline.PromptLoader) (template, label string, err error) {
	switch {
	case cfg.PromptName != "":
		template, err = loader.Load(cfg.PromptName)
		return template, strings.TrimPrefix(cfg.PromptName, "prompt_"), err
	case cfg.PromptFile != "":
		b, err := os.ReadFile(cfg.PromptFile)
		if err != nil {
			return "", "", fmt.Errorf("read -prompt-file: %w", err)
		}
		label := strings.TrimSuffix(filepath.Base(cfg.PromptFile), filepath.Ext(cfg.PromptFile))
		label = strings.TrimPrefix(label, "prompt_")
		return string(b), label, nil
	default:
		return cfg.PromptText, "inline", nil
	}
}

func outputFileName(promptLabel, format string, now time.Time) string {
	ext := format
	if format == "markdown" {
		ext = "md"
	}
	return fmt.Sprintf("results_%s_%s.%s", sanitizeLabel(promptLabel), now.Format("20060102_150405"), ext)
}

// sanitizeLabel keeps output names portable across filesystems.
func sanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
