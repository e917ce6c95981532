package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/linkkeeper/internal/task"
)

// Runtime interface for agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeOptions selects the model behind the LLM classifier.
type RuntimeOptions struct {
	Provider  string // "anthropic" (default) or "openai"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Workspace string
}

const systemPrompt = `You classify links a user wants to keep track of.
Reply with a single JSON object and nothing else:
{"category": "job|grant|research|learning|article|other", "deadline": "YYYY-MM-DD" or null, "priority": 1-5 or null, "title": "short title" or null}
Only report a deadline that is stated in the message, resolving relative dates against the date given.`

// NewRuntime creates the agentsdk-go runtime used for classification.
func NewRuntime(opts RuntimeOptions) (Runtime, error) {
	var provider api.ModelFactory
	switch opts.Provider {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    opts.APIKey,
			BaseURL:   opts.BaseURL,
			ModelName: opts.Model,
			MaxTokens: opts.MaxTokens,
		}
	default:
		provider = &model.AnthropicProvider{
			APIKey:    opts.APIKey,
			BaseURL:   opts.BaseURL,
			ModelName: opts.Model,
			MaxTokens: opts.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   opts.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  systemPrompt,
		MaxIterations: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// LLMClassifier asks a model and falls back to another classifier whenever
// the model fails or answers something unusable.
type LLMClassifier struct {
	runtime  Runtime
	fallback Classifier
	loc      *time.Location
	now      func() time.Time
	timeout  time.Duration
}

func NewLLMClassifier(rt Runtime, fallback Classifier, loc *time.Location, now func() time.Time) *LLMClassifier {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &LLMClassifier{runtime: rt, fallback: fallback, loc: loc, now: now, timeout: 30 * time.Second}
}

type llmAnswer struct {
	Category *string `json:"category"`
	Deadline *string `json:"deadline"`
	Priority *int    `json:"priority"`
	Title    *string `json:"title"`
}

func (l *LLMClassifier) Classify(ctx context.Context, link, text string) (Classification, error) {
	base, err := l.fallback.Classify(ctx, link, text)
	if err != nil {
		return Classification{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	today := l.now().In(l.loc).Format("2006-01-02")
	resp, err := l.runtime.Run(ctx, api.Request{
		Prompt:    fmt.Sprintf("Today is %s.\nLink: %s\nMessage:\n%s", today, link, text),
		SessionID: "classify",
	})
	if err != nil {
		log.Printf("[classify] llm error, using keyword result: %v", err)
		return base, nil
	}
	if resp == nil || resp.Result == nil {
		return base, nil
	}

	ans, err := parseAnswer(resp.Result.Output)
	if err != nil {
		log.Printf("[classify] unusable llm answer, using keyword result: %v", err)
		return base, nil
	}
	return Normalize(l.merge(base, ans), link), nil
}

// merge overlays the valid parts of the model's answer on base.
func (l *LLMClassifier) merge(base Classification, ans llmAnswer) Classification {
	out := base
	if ans.Category != nil {
		if c, ok := task.ParseCategory(*ans.Category); ok {
			out.Category = c
		}
	}
	if ans.Deadline != nil {
		if d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(*ans.Deadline), l.loc); err == nil {
			eod := endOfDay(d.Year(), d.Month(), d.Day(), l.loc)
			out.Deadline = &eod
		}
	}
	if ans.Priority != nil {
		if *ans.Priority >= task.MinPriority && *ans.Priority <= task.MaxPriority {
			out.Priority = *ans.Priority
		} else {
			log.Printf("[classify] llm priority %d out of range, keeping %d", *ans.Priority, base.Priority)
		}
	}
	if ans.Title != nil && strings.TrimSpace(*ans.Title) != "" {
		out.Title = strings.TrimSpace(*ans.Title)
	}
	return out
}

// parseAnswer extracts the first JSON object from the model output.
func parseAnswer(output string) (llmAnswer, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end < start {
		return llmAnswer{}, fmt.Errorf("no json object in %q", truncate(output, 80))
	}
	var ans llmAnswer
	if err := json.Unmarshal([]byte(output[start:end+1]), &ans); err != nil {
		return llmAnswer{}, fmt.Errorf("decode answer: %w", err)
	}
	return ans, nil
}

func (l *LLMClassifier) Close() {
	if l.runtime != nil {
		l.runtime.Close()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
