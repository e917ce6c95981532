package classify

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"

	"github.com/stellarlinkco/linkkeeper/internal/task"
)

var testNow = time.Date(2024, 1, 14, 10, 0, 0, 0, time.UTC)

func newKeyword() *KeywordClassifier {
	return NewKeywordClassifier(time.UTC, func() time.Time { return testNow })
}

func TestExtractURLs(t *testing.T) {
	got := ExtractURLs("see https://example.com/a, and (https://example.org/b) plus https://example.com/a")
	if len(got) != 2 || got[0] != "https://example.com/a" || got[1] != "https://example.org/b" {
		t.Fatalf("ExtractURLs = %v", got)
	}
	if got := ExtractURLs("no links here"); len(got) != 0 {
		t.Fatalf("ExtractURLs = %v, want none", got)
	}
}

func TestKeyword_Category(t *testing.T) {
	tests := []struct {
		link, text string
		want       task.Category
	}{
		{"https://www.linkedin.com/jobs/view/1", "", task.CategoryJob},
		{"https://example.com/careers/42", "Backend role, apply soon", task.CategoryJob},
		{"https://www.grants.gov/x", "", task.CategoryGrant},
		{"https://example.org/fellowship", "", task.CategoryGrant},
		{"https://arxiv.org/abs/1234", "", task.CategoryResearch},
		{"https://www.coursera.org/learn/ml", "", task.CategoryLearning},
		{"https://example.com/x", "great blog post", task.CategoryArticle},
		{"https://example.com/x", "", task.CategoryOther},
	}
	k := newKeyword()
	for _, tt := range tests {
		got, err := k.Classify(context.Background(), tt.link, tt.text)
		if err != nil {
			t.Fatalf("Classify error: %v", err)
		}
		if got.Category != tt.want {
			t.Errorf("Classify(%s, %q) category = %s, want %s", tt.link, tt.text, got.Category, tt.want)
		}
	}
}

func TestKeyword_Deadline(t *testing.T) {
	tests := []struct {
		text string
		want string // YYYY-MM-DD, empty for none
	}{
		{"deadline 2024-03-01", "2024-03-01"},
		{"apply by 03/15/2024", "2024-03-15"},
		{"closes 25/03/2024", "2024-03-25"},
		{"due 15 Feb 2024", "2024-02-15"},
		{"due February 20th, 2024", "2024-02-20"},
		{"in 3 days", "2024-01-17"},
		{"in 2 weeks", "2024-01-28"},
		{"whenever", ""},
		{"2024-02-30", ""},
	}
	k := newKeyword()
	for _, tt := range tests {
		got, _ := k.Classify(context.Background(), "https://example.com/2024-05-05", tt.text)
		if tt.want == "" {
			if got.Deadline != nil {
				t.Errorf("%q: deadline = %v, want none", tt.text, got.Deadline)
			}
			continue
		}
		if got.Deadline == nil {
			t.Errorf("%q: no deadline, want %s", tt.text, tt.want)
			continue
		}
		if d := got.Deadline.Format("2006-01-02"); d != tt.want {
			t.Errorf("%q: deadline = %s, want %s", tt.text, d, tt.want)
		}
		if got.Deadline.Hour() != 23 || got.Deadline.Minute() != 59 {
			t.Errorf("%q: deadline should be end of day, got %v", tt.text, got.Deadline)
		}
	}
}

func TestKeyword_PriorityAndTitle(t *testing.T) {
	k := newKeyword()
	got, _ := k.Classify(context.Background(), "https://example.com/x", "Senior Go engineer\nurgent https://example.com/x")
	if got.Priority != 5 {
		t.Errorf("priority = %d, want 5", got.Priority)
	}
	if got.Title != "Senior Go engineer" {
		t.Errorf("title = %q", got.Title)
	}

	got, _ = k.Classify(context.Background(), "https://example.com/x", "priority 3")
	if got.Priority != 3 {
		t.Errorf("priority = %d, want 3", got.Priority)
	}
}

func TestNormalize_EmptyResult(t *testing.T) {
	got := Normalize(Classification{}, "https://www.example.com/path")
	if got.Category != task.CategoryOther || got.Priority != 1 || got.Title != "Link from example.com" {
		t.Fatalf("Normalize = %+v", got)
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return &buf
}

func TestNormalize_OutOfRangePriorityLogged(t *testing.T) {
	buf := captureLog(t)
	got := Normalize(Classification{Priority: 9}, "https://example.com")
	if got.Priority != task.DefaultPriority {
		t.Fatalf("priority = %d, want %d", got.Priority, task.DefaultPriority)
	}
	if !strings.Contains(buf.String(), "priority 9 out of range") {
		t.Fatalf("log = %q, want out of range warning", buf.String())
	}

	buf.Reset()
	Normalize(Classification{}, "https://example.com")
	if buf.Len() != 0 {
		t.Fatalf("unset priority should not be logged, got %q", buf.String())
	}
}

func TestLLM_OutOfRangePriorityLogged(t *testing.T) {
	buf := captureLog(t)
	rt := &mockRuntime{output: `{"category": "job", "priority": 7}`}
	c := NewLLMClassifier(rt, newKeyword(), time.UTC, func() time.Time { return testNow })

	got, err := c.Classify(context.Background(), "https://example.com/x", "urgent, take a look")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if got.Priority != 5 {
		t.Fatalf("priority = %d, want keyword priority 5", got.Priority)
	}
	if !strings.Contains(buf.String(), "llm priority 7 out of range") {
		t.Fatalf("log = %q, want out of range warning", buf.String())
	}
}

type mockRuntime struct {
	output string
	err    error
	prompt string
	closed bool
}

func (m *mockRuntime) Run(_ context.Context, req api.Request) (*api.Response, error) {
	m.prompt = req.Prompt
	if m.err != nil {
		return nil, m.err
	}
	return &api.Response{Result: &api.Result{Output: m.output}}, nil
}

func (m *mockRuntime) Close() { m.closed = true }

func TestLLM_UsesModelAnswer(t *testing.T) {
	rt := &mockRuntime{output: "Sure:\n```json\n{\"category\": \"grant\", \"deadline\": \"2024-02-01\", \"priority\": 4, \"title\": \"NSF grant\"}\n```"}
	c := NewLLMClassifier(rt, newKeyword(), time.UTC, func() time.Time { return testNow })

	got, err := c.Classify(context.Background(), "https://example.com/x", "check this")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if got.Category != task.CategoryGrant || got.Priority != 4 || got.Title != "NSF grant" {
		t.Fatalf("Classify = %+v", got)
	}
	if got.Deadline == nil || got.Deadline.Format("2006-01-02") != "2024-02-01" {
		t.Fatalf("deadline = %v", got.Deadline)
	}
	if rt.prompt == "" {
		t.Fatal("runtime was not called")
	}
	c.Close()
	if !rt.closed {
		t.Fatal("Close should close the runtime")
	}
}

func TestLLM_FallsBack(t *testing.T) {
	tests := []struct {
		name string
		rt   *mockRuntime
	}{
		{"runtime error", &mockRuntime{err: errors.New("rate limited")}},
		{"not json", &mockRuntime{output: "I think it's a job"}},
		{"bad values", &mockRuntime{output: `{"category": "cats", "priority": 9, "deadline": "soon"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLLMClassifier(tt.rt, newKeyword(), time.UTC, func() time.Time { return testNow })
			got, err := c.Classify(context.Background(), "https://www.linkedin.com/jobs/1", "deadline 2024-03-01")
			if err != nil {
				t.Fatalf("Classify error: %v", err)
			}
			if got.Category != task.CategoryJob || got.Priority != 1 {
				t.Fatalf("Classify = %+v, want keyword result", got)
			}
			if got.Deadline == nil || got.Deadline.Format("2006-01-02") != "2024-03-01" {
				t.Fatalf("deadline = %v", got.Deadline)
			}
		})
	}
}
