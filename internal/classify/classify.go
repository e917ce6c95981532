package classify

import (
	"context"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/stellarlinkco/linkkeeper/internal/task"
)

// Classification is what a classifier could tell about a submitted link.
// Zero values mean unknown.
type Classification struct {
	Category task.Category
	Deadline *time.Time
	Priority int
	Title    string
}

// Classifier derives task attributes from the link and the message around it.
type Classifier interface {
	Classify(ctx context.Context, link, text string) (Classification, error)
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// ExtractURLs returns the links in text in order of appearance, deduplicated.
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?)]}")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Normalize fills the defaults for an empty or partial result: category
// other, priority 1 and a title derived from the URL host. A stated
// priority outside 1..5 is logged and replaced by the default.
func Normalize(c Classification, link string) Classification {
	if !c.Category.Valid() {
		c.Category = task.CategoryOther
	}
	if c.Priority < task.MinPriority || c.Priority > task.MaxPriority {
		if c.Priority != 0 {
			log.Printf("[classify] priority %d out of range %d..%d, using %d", c.Priority, task.MinPriority, task.MaxPriority, task.DefaultPriority)
		}
		c.Priority = task.DefaultPriority
	}
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		c.Title = TitleFromURL(link)
	}
	return c
}

// TitleFromURL is the fallback title "Link from <host>".
func TitleFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "Link"
	}
	return "Link from " + strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// endOfDay is the last second of the calendar day d in loc. Date-only
// deadlines mean "by the end of that day".
func endOfDay(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}
