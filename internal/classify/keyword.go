package classify

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/linkkeeper/internal/task"
)

type categoryRule struct {
	category task.Category
	domains  []string
	keywords []string
}

var categoryRules = []categoryRule{
	{
		category: task.CategoryJob,
		domains:  []string{"linkedin.com", "indeed.com", "glassdoor.com", "monster.com", "careerbuilder.com", "greenhouse.io", "lever.co"},
		keywords: []string{"job", "position", "career", "employment", "hiring", "recruit", "apply", "application", "resume", "interview"},
	},
	{
		category: task.CategoryGrant,
		domains:  []string{"grants.gov", "foundationcenter.org", "scholarships.com"},
		keywords: []string{"grant", "funding", "scholarship", "fellowship", "award", "proposal"},
	},
	{
		category: task.CategoryResearch,
		domains:  []string{"arxiv.org", "researchgate.net", "scholar.google.com", "pubmed.ncbi.nlm.nih.gov"},
		keywords: []string{"research", "study", "investigation", "survey", "experiment", "findings", "methodology"},
	},
	{
		category: task.CategoryLearning,
		domains:  []string{"coursera.org", "edx.org", "udemy.com", "khanacademy.org", "skillshare.com"},
		keywords: []string{"learn", "course", "tutorial", "education", "training", "workshop", "seminar", "lecture", "lesson"},
	},
	{
		category: task.CategoryArticle,
		domains:  []string{"medium.com", "substack.com", "dev.to"},
		keywords: []string{"read", "article", "paper", "blog", "post", "report", "newsletter"},
	},
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

const monthNames = `(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*`

var (
	relativePattern = regexp.MustCompile(`\bin\s+(\d{1,3})\s+(day|days|week|weeks)\b`)
	isoPattern      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashPattern    = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)
	dayMonthPattern = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthNames + `,?\s+(\d{4})\b`)
	monthDayPattern = regexp.MustCompile(`\b` + monthNames + `\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	priorityPattern = regexp.MustCompile(`\bp(?:riority)?[\s:=]*([1-5])\b`)
)

// KeywordClassifier classifies with URL domains, keywords and date patterns.
// It never fails.
type KeywordClassifier struct {
	loc *time.Location
	now func() time.Time
}

func NewKeywordClassifier(loc *time.Location, now func() time.Time) *KeywordClassifier {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &KeywordClassifier{loc: loc, now: now}
}

func (k *KeywordClassifier) Classify(_ context.Context, link, text string) (Classification, error) {
	c := Classification{
		Category: categorize(link, text),
		Deadline: k.deadline(text),
		Priority: priority(text),
		Title:    title(text),
	}
	return Normalize(c, link), nil
}

func categorize(link, text string) task.Category {
	host := ""
	if u, err := url.Parse(link); err == nil {
		host = strings.ToLower(u.Host)
	}
	for _, r := range categoryRules {
		for _, d := range r.domains {
			if host != "" && strings.Contains(host, d) {
				return r.category
			}
		}
	}

	combined := strings.ToLower(link + " " + text)
	for _, r := range categoryRules {
		for _, kw := range r.keywords {
			if strings.Contains(combined, kw) {
				return r.category
			}
		}
	}
	return task.CategoryOther
}

// deadline looks for a relative "in N days/weeks" first, then absolute dates.
// Slash dates are read month first.
func (k *KeywordClassifier) deadline(text string) *time.Time {
	lower := strings.ToLower(urlPattern.ReplaceAllString(text, " "))
	now := k.now().In(k.loc)

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		d := now.AddDate(0, 0, n)
		t := endOfDay(d.Year(), d.Month(), d.Day(), k.loc)
		return &t
	}

	if m := isoPattern.FindStringSubmatch(lower); m != nil {
		if t, ok := k.date(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return &t
		}
	}
	if m := slashPattern.FindStringSubmatch(lower); m != nil {
		if t, ok := k.date(fullYear(atoi(m[3])), atoi(m[1]), atoi(m[2])); ok {
			return &t
		}
		if t, ok := k.date(fullYear(atoi(m[3])), atoi(m[2]), atoi(m[1])); ok {
			return &t
		}
	}
	if m := dayMonthPattern.FindStringSubmatch(lower); m != nil {
		if t, ok := k.date(atoi(m[3]), int(months[m[2]]), atoi(m[1])); ok {
			return &t
		}
	}
	if m := monthDayPattern.FindStringSubmatch(lower); m != nil {
		if t, ok := k.date(atoi(m[3]), int(months[m[1]]), atoi(m[2])); ok {
			return &t
		}
	}
	return nil
}

// date rejects impossible dates instead of letting time.Date normalize them.
func (k *KeywordClassifier) date(y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := endOfDay(y, time.Month(m), d, k.loc)
	if t.Day() != d || t.Month() != time.Month(m) {
		return time.Time{}, false
	}
	return t, true
}

func priority(text string) int {
	lower := strings.ToLower(urlPattern.ReplaceAllString(text, " "))
	if m := priorityPattern.FindStringSubmatch(lower); m != nil {
		return atoi(m[1])
	}
	switch {
	case strings.Contains(lower, "urgent"), strings.Contains(lower, "asap"):
		return 5
	case strings.Contains(lower, "important"), strings.Contains(lower, "high priority"):
		return 4
	}
	return 0
}

// title takes the first short line that isn't a link.
func title(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || urlPattern.MatchString(line) || len(line) >= 100 {
			continue
		}
		if len(line) > 50 {
			return line[:50] + "..."
		}
		return line
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func fullYear(y int) int {
	if y < 100 {
		return 2000 + y
	}
	return y
}
