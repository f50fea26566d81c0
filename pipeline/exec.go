package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// SimulatedResponse is the fixed placeholder returned in simulation mode.
const SimulatedResponse = "[SIMULATION] Réponse simulée du modèle"

// DefaultBaseURL targets Mistral's OpenAI-compatible completion endpoint.
const DefaultBaseURL = "https://api.mistral.ai/v1"

// DefaultRequestTimeout bounds one network attempt.
const DefaultRequestTimeout = 60 * time.Second

// CompletionRequest is one prepared prompt, already substituted and
// segmented.
type CompletionRequest struct {
	System    string
	HasSystem bool
	Prompt    string
}

// CompletionResult is a successful completion exchange.
type CompletionResult struct {
	Response string
	Model    string
	Usage    map[string]any
}

// CompletionService executes one prepared prompt against a completion
// backend. It is selected once at startup: the engine never branches on
// simulation per call.
type CompletionService interface {
	Execute(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// RetryPolicy caps attempts and derives the backoff between them.
type RetryPolicy struct {
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

// Backoff returns the pause before retrying attempt (0-based). Rate limiting
// backs off harder than other server errors; timeouts use status 0 and share
// the server-error curve.
func (p RetryPolicy) Backoff(status, attempt int) time.Duration {
	if status == http.StatusTooManyRequests {
		return time.Duration(5<<attempt) * time.Second
	}
	return time.Duration((attempt+1)*2) * time.Second
}

// Retryable reports whether an HTTP status is worth another attempt.
func (p RetryPolicy) Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// RemoteOptions configures a RemoteCompletionService.
type RemoteOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64

	// Delay is the fixed pre-dispatch pause applied before every request to
	// soften the remote service's rate limiting.
	Delay   time.Duration
	Timeout time.Duration
	Retry   RetryPolicy

	// Sleep is the suspension point used for delays and backoff; tests
	// inject a recorder so the retry schedule stays observable and fast.
	Sleep  func(time.Duration)
	Logger zerolog.Logger
}

// RemoteCompletionService talks to an OpenAI-compatible chat-completions
// endpoint with bearer-token auth. The client's own retries are disabled so
// the engine's retry policy is the only one in play.
type RemoteCompletionService struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	delay       time.Duration
	retry       RetryPolicy
	sleep       func(time.Duration)
	logger      zerolog.Logger
}

func NewRemoteCompletionService(opts RemoteOptions) *RemoteCompletionService {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 16000
	}

	client := openai.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(opts.BaseURL),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(opts.Timeout),
	)

	return &RemoteCompletionService{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		delay:       opts.Delay,
		retry:       opts.Retry,
		sleep:       opts.Sleep,
		logger:      opts.Logger,
	}
}

func (s *RemoteCompletionService) Execute(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if s.delay > 0 {
		s.sleep(s.delay)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.HasSystem {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(s.model),
		Messages:    messages,
		Temperature: openai.Float(s.temperature),
		MaxTokens:   openai.Int(s.maxTokens),
	}

	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		resp, err := s.client.Chat.Completions.New(ctx, params)
		if err == nil {
			if len(resp.Choices) == 0 {
				return CompletionResult{}, errors.New("empty choices in completion response")
			}
			return CompletionResult{
				Response: resp.Choices[0].Message.Content,
				Model:    s.model,
				Usage:    usageMetadata(resp.Usage),
			}, nil
		}

		var apierr *openai.Error
		switch {
		case errors.As(err, &apierr):
			status := apierr.StatusCode
			if s.retry.Retryable(status) && attempt < s.retry.MaxAttempts-1 {
				wait := s.retry.Backoff(status, attempt)
				s.logger.Warn().Int("status", status).Int("attempt", attempt+1).
					Dur("backoff", wait).Msg("completion request failed, retrying")
				s.sleep(wait)
				continue
			}
			return CompletionResult{}, fmt.Errorf("HTTP %d: %w", status, err)
		case isTimeout(err):
			if attempt < s.retry.MaxAttempts-1 {
				wait := s.retry.Backoff(0, attempt)
				s.logger.Warn().Int("attempt", attempt+1).
					Dur("backoff", wait).Msg("completion request timed out, retrying")
				s.sleep(wait)
				continue
			}
			return CompletionResult{}, errors.New("timeout après plusieurs tentatives")
		default:
			// Anything else is not retryable.
			return CompletionResult{}, err
		}
	}

	return CompletionResult{}, fmt.Errorf("échec après %d tentatives", s.retry.MaxAttempts)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err)
}

func usageMetadata(u openai.CompletionUsage) map[string]any {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
}

// SimulatedCompletionService answers every prompt with the fixed placeholder
// after a short jittered pause, for dry-run validation without network
// access.
type SimulatedCompletionService struct {
	sleep func(time.Duration)
}

func NewSimulatedCompletionService(sleep func(time.Duration)) *SimulatedCompletionService {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &SimulatedCompletionService{sleep: sleep}
}

func (s *SimulatedCompletionService) Execute(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	s.sleep(time.Duration(100+rand.Intn(201)) * time.Millisecond)
	return CompletionResult{Response: SimulatedResponse}, nil
}

// Engine runs prepared fragments through the completion service under a
// bounded worker pool.
type Engine struct {
	Service CompletionService
	Tokens  TokenCounter
	Workers int
	Logger  zerolog.Logger

	// OnResult, when set, observes each record as it completes. It is called
	// from a single collector goroutine.
	OnResult func(ResultRecord)
}

// Run processes every fragment and returns exactly one ResultRecord per
// fragment, in completion order. Per-fragment failures become FAILED records
// and never abort the pool.
func (e *Engine) Run(ctx context.Context, template string, frags []Fragment) []ResultRecord {
	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	results := make(chan ResultRecord, len(frags))

	var wg sync.WaitGroup
	for _, frag := range frags {
		wg.Add(1)
		go func(frag Fragment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			defer func() {
				if r := recover(); r != nil {
					e.Logger.Error().Str("titre", frag.Title).
						Interface("panic", r).Msg("fragment processing panicked")
					results <- failedRecord(frag, fmt.Sprintf("panic: %v", r))
				}
			}()

			results <- e.processFragment(ctx, template, frag)
		}(frag)
	}

	// Single collector drains completions so the append never races.
	out := make([]ResultRecord, 0, len(frags))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for rec := range results {
			if e.OnResult != nil {
				e.OnResult(rec)
			}
			out = append(out, rec)
		}
	}()

	wg.Wait()
	close(results)
	<-done
	return out
}

func (e *Engine) processFragment(ctx context.Context, template string, frag Fragment) ResultRecord {
	if len(frag.Messages) == 0 {
		return failedRecord(frag, "Aucun message")
	}

	frag.TokenCount = e.Tokens.Count(strings.Join(frag.Messages, "\n"))

	formatted := FormatPrompt(template, frag)
	system, user, hasSystem := ParseSystemUser(formatted)

	res, err := e.Service.Execute(ctx, CompletionRequest{
		System:    system,
		HasSystem: hasSystem,
		Prompt:    user,
	})
	if err != nil {
		e.Logger.Error().Err(err).Str("titre", frag.Title).
			Str("partie", frag.PartLabel).Msg("fragment execution failed")
		rec := failedRecord(frag, err.Error())
		rec.TokenCount = frag.TokenCount
		return rec
	}

	rec := baseRecord(frag)
	rec.Success = true
	rec.Response = res.Response
	rec.TokenCount = frag.TokenCount
	rec.ModelUsed = res.Model
	rec.Usage = res.Usage
	return rec
}

func baseRecord(frag Fragment) ResultRecord {
	original := frag.OriginalTitle
	if original == "" {
		original = frag.Title
	}
	return ResultRecord{
		ConversationID: frag.SplitGroupID,
		OriginalTitle:  original,
		Title:          frag.Title,
		Part:           frag.PartLabel,
		SourceFile:     frag.SourceFile,
		SourceFormat:   string(frag.Format),
	}
}

func failedRecord(frag Fragment, errText string) ResultRecord {
	rec := baseRecord(frag)
	rec.Success = false
	rec.Error = errText
	return rec
}
