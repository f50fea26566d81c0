package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/convoscope/promptexec/pipeline"
)

const version = "1.0.0"

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type Config struct {
	PromptName string
	PromptFile string
	PromptText string

	ListPrompts bool
	InitPrompts bool
	PromptsDir  string

	Files   multiFlag
	ChatGPT bool
	LeChat  bool
	Claude  bool
	AllAI   bool

	Simulate  bool
	OnlySplit bool
	NotSplit  bool
	CNbr      string
	Recursive bool

	Model     string
	Workers   int
	Delay     time.Duration
	Timeout   time.Duration
	MaxTokens int

	OutputFormat  string
	OutputPath    string
	TargetLogs    string
	TargetResults string
	EmitSchema    bool
	NoProgress    bool

	APIKey  string
	BaseURL string
}

func (c Config) Validate() error {
	actions := 0
	if c.PromptName != "" || c.PromptFile != "" || c.PromptText != "" {
		actions++
	}
	if c.ListPrompts {
		actions++
	}
	if c.InitPrompts {
		actions++
	}
	if actions == 0 {
		return errors.New("missing action: pass -exec, -prompt-file, -prompt-text, -prompt-list or -init-prompts")
	}

	given := 0
	for _, set := range []bool{c.PromptName != "", c.PromptFile != "", c.PromptText != ""} {
		if set {
			given++
		}
	}
	if given > 1 {
		return errors.New("-exec, -prompt-file and -prompt-text are mutually exclusive")
	}

	if c.OnlySplit && c.NotSplit {
		return errors.New("-only-split and -not-split are mutually exclusive")
	}
	if c.Workers < 1 {
		return errors.New("workers must be >= 1")
	}
	if c.Delay < 0 {
		return errors.New("delay must be >= 0")
	}
	if c.MaxTokens < 1 {
		return errors.New("max-tokens must be >= 1")
	}
	switch c.OutputFormat {
	case "csv", "json", "txt", "markdown":
	default:
		return fmt.Errorf("unknown output format %q (want csv, json, txt or markdown)", c.OutputFormat)
	}
	if c.CNbr != "" {
		if _, _, err := parseCNbr(c.CNbr); err != nil {
			return err
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		PromptsDir:    "prompts",
		Model:         "pixtral-large-latest",
		Workers:       5,
		Delay:         500 * time.Millisecond,
		Timeout:       pipeline.DefaultRequestTimeout,
		MaxTokens:     pipeline.DefaultTokenBudget,
		OutputFormat:  "csv",
		TargetLogs:    "logs",
		TargetResults: "results",
	}
}

// fileConfig is the optional YAML overlay loaded via -config. Flags given on
// the command line still win over file values.
type fileConfig struct {
	Model         string `yaml:"model"`
	Workers       int    `yaml:"workers"`
	Delay         string `yaml:"delay"`
	Timeout       string `yaml:"timeout"`
	MaxTokens     int    `yaml:"max_tokens"`
	OutputFormat  string `yaml:"format"`
	TargetLogs    string `yaml:"target_logs"`
	TargetResults string `yaml:"target_results"`
	PromptsDir    string `yaml:"prompts_dir"`
	BaseURL       string `yaml:"base_url"`
}

func applyFileConfig(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Model != "" {
		cfg.Model = fc.Model
	}
	if fc.Workers > 0 {
		cfg.Workers = fc.Workers
	}
	if fc.Delay != "" {
		d, err := time.ParseDuration(fc.Delay)
		if err != nil {
			return fmt.Errorf("config delay: %w", err)
		}
		cfg.Delay = d
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if fc.MaxTokens > 0 {
		cfg.MaxTokens = fc.MaxTokens
	}
	if fc.OutputFormat != "" {
		cfg.OutputFormat = fc.OutputFormat
	}
	if fc.TargetLogs != "" {
		cfg.TargetLogs = fc.TargetLogs
	}
	if fc.TargetResults != "" {
		cfg.TargetResults = fc.TargetResults
	}
	if fc.PromptsDir != "" {
		cfg.PromptsDir = fc.PromptsDir
	}
	if fc.BaseURL != "" {
		cfg.BaseURL = fc.BaseURL
	}
	return nil
}

// configFileArg pre-scans args for -config so the YAML overlay can seed the
// flag defaults before parsing.
func configFileArg(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		for _, name := range []string{"-config", "--config"} {
			if a == name && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(a, name+"=") {
				return strings.TrimPrefix(a, name+"=")
			}
		}
	}
	return ""
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	if path := configFileArg(args); path != "" {
		if err := applyFileConfig(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	var configPath string
	fs.StringVar(&configPath, "config", "", "Optional YAML config file (flags override file values)")

	fs.StringVar(&cfg.PromptName, "exec", "", "Name of the prompt to execute (resolves prompts/prompt_<name>.txt)")
	fs.StringVar(&cfg.PromptFile, "prompt-file", "", "Path to a prompt template file (alternative to -exec)")
	fs.StringVar(&cfg.PromptText, "prompt-text", "", "Inline prompt template (alternative to -exec)")
	fs.BoolVar(&cfg.ListPrompts, "prompt-list", false, "List available prompts and exit")
	fs.BoolVar(&cfg.InitPrompts, "init-prompts", false, "Create the starter prompt files and exit")
	fs.StringVar(&cfg.PromptsDir, "prompts-dir", cfg.PromptsDir, "Directory holding prompt_<name>.txt templates")

	fs.Var(&cfg.Files, "file", "Conversation export file or glob (repeatable)")
	fs.BoolVar(&cfg.ChatGPT, "chatgpt", false, "Treat inputs as ChatGPT exports")
	fs.BoolVar(&cfg.LeChat, "lechat", false, "Treat inputs as LeChat exports")
	fs.BoolVar(&cfg.Claude, "claude", false, "Treat inputs as Claude exports")
	fs.BoolVar(&cfg.AllAI, "aiall", false, "Auto-detect the format of every input file")
	fs.BoolVar(&cfg.Recursive, "recursive", false, "Recurse into directories when expanding -file patterns")

	fs.BoolVar(&cfg.Simulate, "simulate", false, "Answer every prompt with a fixed placeholder, no network")
	fs.BoolVar(&cfg.OnlySplit, "only-split", false, "Keep only fragments that came from a split conversation")
	fs.BoolVar(&cfg.NotSplit, "not-split", false, "Keep only conversations that were not split")
	fs.StringVar(&cfg.CNbr, "cnbr", "", "Process only conversation N, or range N-M (1-based)")

	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model name sent to the completion endpoint")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Max concurrent completion requests")
	fs.DurationVar(&cfg.Delay, "delay", cfg.Delay, "Pause before each request, to soften rate limiting")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "Token budget above which a conversation is split in two")

	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, txt or markdown")
	fs.StringVar(&cfg.OutputPath, "output", "", "Output path (default: <target-results>/results_<prompt>_<timestamp>.<ext>)")
	fs.StringVar(&cfg.TargetLogs, "target-logs", cfg.TargetLogs, "Directory for the operational log")
	fs.StringVar(&cfg.TargetResults, "target-results", cfg.TargetResults, "Directory for result files")
	fs.BoolVar(&cfg.EmitSchema, "emit-schema", false, "With -format json, also write a .schema.json sidecar")
	fs.BoolVar(&cfg.NoProgress, "no-progress", false, "Disable the progress bar")

	fs.StringVar(&cfg.APIKey, "api-key", "", "API key (overrides MISTRAL_API_KEY env var)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "Completion endpoint base URL (default: Mistral)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.PromptsDir = filepath.Clean(cfg.PromptsDir)
	cfg.TargetLogs = filepath.Clean(cfg.TargetLogs)
	cfg.TargetResults = filepath.Clean(cfg.TargetResults)
	if cfg.PromptFile != "" {
		cfg.PromptFile = filepath.Clean(cfg.PromptFile)
	}
	if cfg.OutputPath != "" {
		cfg.OutputPath = filepath.Clean(cfg.OutputPath)
	}
	return cfg, nil
}

// forcedFormat maps the format flags to a forced schema, or FormatAuto when
// detection should decide per file.
func (c Config) forcedFormat() pipeline.Format {
	switch {
	case c.AllAI:
		return pipeline.FormatAuto
	case c.ChatGPT:
		return pipeline.FormatChatGPT
	case c.LeChat:
		return pipeline.FormatLeChat
	case c.Claude:
		return pipeline.FormatClaude
	default:
		return pipeline.FormatAuto
	}
}

// parseCNbr parses the 1-based conversation selector: "3" or "2-5".
func parseCNbr(s string) (lo, hi int, err error) {
	lo = 0
	hi = 0
	if before, after, ok := strings.Cut(s, "-"); ok {
		lo, err = strconv.Atoi(strings.TrimSpace(before))
		if err == nil {
			hi, err = strconv.Atoi(strings.TrimSpace(after))
		}
	} else {
		lo, err = strconv.Atoi(strings.TrimSpace(s))
		hi = lo
	}
	if err != nil {
		return 0, 0, fmt.Errorf("invalid -cnbr %q (want N or N-M)", s)
	}
	if lo < 1 || hi < lo {
		return 0, 0, fmt.Errorf("invalid -cnbr %q (want 1-based N or N-M with N <= M)", s)
	}
	return lo, hi, nil
}
