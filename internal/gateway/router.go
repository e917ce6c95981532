package gateway

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/stellarlinkco/linkkeeper/internal/classify"
	"github.com/stellarlinkco/linkkeeper/internal/command"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

// Op is a parsed chat command.
type Op string

const (
	OpUnknown           Op = "unknown"
	OpStart             Op = "start"
	OpHelp              Op = "help"
	OpSubmit            Op = "submit"
	OpDone              Op = "done"
	OpStatus            Op = "status"
	OpAddMilestone      Op = "add_milestone"
	OpCompleteMilestone Op = "complete_milestone"
	OpListMilestones    Op = "list_milestones"
	OpList              Op = "list"
	OpProgress          Op = "progress"
	OpProgressSummary   Op = "progress_summary"
	OpRemind            Op = "remind"
	OpDelete            Op = "delete"
	OpUsage             Op = "usage"
)

// Request is one chat message mapped onto the command surface.
type Request struct {
	Op     Op
	ID     string
	Status task.Status
	Text   string
	URLs   []string
	Filter command.Filter
	// Usage names the command whose syntax was wrong, for OpUsage.
	Usage string
}

var idPattern = regexp.MustCompile(`^[0-9a-fA-F-]{4,36}$`)

func isID(s string) bool {
	return idPattern.MatchString(s)
}

// ParseRequest maps text onto a command. Commands are recognized by their
// leading word; anything else containing links is a submission.
func ParseRequest(text string) Request {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Request{Op: OpUnknown}
	}

	req := parseCommand(fields)
	if req.Op == OpUnknown || req.Op == OpUsage {
		if urls := classify.ExtractURLs(text); len(urls) > 0 {
			return Request{Op: OpSubmit, URLs: urls, Text: text}
		}
	}
	return req
}

func parseCommand(fields []string) Request {
	head := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.Index(head, "@"); i > 0 {
		head = head[:i]
	}
	args := fields[1:]
	arg := func(i int) string {
		if i < len(args) {
			return strings.ToLower(args[i])
		}
		return ""
	}

	switch head {
	case "start":
		if len(args) == 0 {
			return Request{Op: OpStart}
		}
	case "help", "commands":
		if len(args) == 0 {
			return Request{Op: OpHelp}
		}

	case "done", "complete", "finished":
		if arg(0) == "milestone" {
			if len(args) == 2 && isID(args[1]) {
				return Request{Op: OpCompleteMilestone, ID: arg(1)}
			}
			return usage("complete milestone")
		}
		if len(args) == 1 && isID(args[0]) {
			return Request{Op: OpDone, ID: arg(0)}
		}
		return usage("done")

	case "mark":
		if len(args) >= 3 && isID(args[0]) && arg(1) == "as" {
			if s, ok := task.ParseStatus(strings.ToLower(strings.Join(args[2:], "_"))); ok {
				return Request{Op: OpStatus, ID: arg(0), Status: s}
			}
		}
		return usage("mark")

	case "add":
		if arg(0) == "milestone" {
			if len(args) >= 3 && isID(args[1]) {
				return Request{Op: OpAddMilestone, ID: arg(1), Text: strings.Join(args[2:], " ")}
			}
			return usage("add milestone")
		}

	case "list", "show":
		return parseList(args, arg)

	case "progress":
		switch arg(0) {
		case "", "all", "summary", "overview":
			return Request{Op: OpProgressSummary}
		}
		if len(args) == 1 && isID(args[0]) {
			return Request{Op: OpProgress, ID: arg(0)}
		}
		return usage("progress")

	case "remind":
		// remind me about <id>, remind <id>
		if len(args) >= 1 && isID(args[len(args)-1]) {
			return Request{Op: OpRemind, ID: arg(len(args) - 1)}
		}
		return usage("remind")

	case "delete", "remove":
		if len(args) == 1 && isID(args[0]) {
			return Request{Op: OpDelete, ID: arg(0)}
		}
		return usage("delete")
	}
	return Request{Op: OpUnknown}
}

func parseList(args []string, arg func(int) string) Request {
	list := func(f command.Filter) Request { return Request{Op: OpList, Filter: f} }

	switch a := arg(0); a {
	case "", "all":
		return list(command.Filter{Kind: command.FilterAll})
	case "overdue":
		return list(command.Filter{Kind: command.FilterOverdue})
	case "reminders", "reminder":
		return list(command.Filter{Kind: command.FilterReminders})
	case "deadlines", "deadline":
		f := command.Filter{Kind: command.FilterDeadlines}
		if n, err := strconv.Atoi(arg(1)); err == nil {
			f.Days = n
		}
		return list(f)
	case "milestones", "milestone":
		if len(args) == 2 && isID(args[1]) {
			return Request{Op: OpListMilestones, ID: arg(1)}
		}
		return usage("list milestones")
	case "category":
		if c, ok := task.ParseCategory(arg(1)); ok {
			return list(command.Filter{Kind: command.FilterCategory, Category: c})
		}
		return usage("list")
	default:
		if c, ok := task.ParseCategory(a); ok {
			return list(command.Filter{Kind: command.FilterCategory, Category: c})
		}
		return usage("list")
	}
}

func usage(cmd string) Request {
	return Request{Op: OpUsage, Usage: cmd}
}

// Reply is the rendered answer to one message. Code is the result code of
// the command behind it.
type Reply struct {
	Text string
	Code string
}

// Router executes parsed requests against the command service.
type Router struct {
	svc *command.Service
}

func NewRouter(svc *command.Service) *Router {
	return &Router{svc: svc}
}

// Handle parses text from owner, runs it and renders the result.
func (r *Router) Handle(ctx context.Context, owner, text string) Reply {
	req := ParseRequest(text)
	rd := renderer{now: r.svc.Now(), loc: r.svc.Location()}

	switch req.Op {
	case OpStart:
		return ok(welcomeText)
	case OpHelp:
		return ok(helpText)
	case OpUsage:
		return Reply{Text: usageText(req.Usage), Code: task.CodeValidation}
	case OpUnknown:
		return ok("Send me a link to track it, or type `help` to see all commands.")

	case OpSubmit:
		return r.submit(ctx, owner, req, rd)

	case OpDone:
		t, err := r.svc.MarkDone(owner, req.ID)
		if err != nil {
			return fail(err, req.ID)
		}
		return ok(rd.statusUpdated(t))

	case OpStatus:
		t, err := r.svc.UpdateStatus(owner, req.ID, req.Status)
		if err != nil {
			return fail(err, req.ID)
		}
		return ok(rd.statusUpdated(t))

	case OpAddMilestone:
		t, m, err := r.svc.AddMilestone(owner, req.ID, req.Text)
		if err != nil {
			return fail(err, req.ID)
		}
		return ok(rd.milestoneAdded(t, m))

	case OpCompleteMilestone:
		t, _, err := r.svc.CompleteMilestone(owner, req.ID)
		if err != nil {
			return fail(err, req.ID)
		}
		return ok(rd.milestoneCompleted(t))

	case OpListMilestones:
		t, err := r.svc.ListMilestones(owner, req.ID)
		if err != nil {
			return fail(err, req.ID)
		}
		return ok(rd.milestones(t))

	case OpList:
		tasks, err := r.svc.List(owner, req.Filter)
		if err != nil {
			return fail(err, "")
		}
		return ok(rd.list(listTitle(req.Filter), tasks))

	case OpProgress:
		rep, err := r.svc.Progress(owner, req.ID)
		if err != nil {
			return fail(err, req.ID)
		}
		return ok(rd.progress(rep))

	case OpProgressSummary:
		s, err := r.svc.ProgressSummary(owner)
		if err != nil {
			return fail(err, "")
		}
		return ok(rd.summary(s))

	case OpRemind:
		if _, err := r.svc.RemindNow(ctx, owner, req.ID); err != nil {
			return fail(err, req.ID)
		}
		return ok("**Reminder sent!**")

	case OpDelete:
		t, err := r.svc.Delete(owner, req.ID)
		if err != nil {
			return fail(err, req.ID)
		}
		return ok(rd.deleted(t))
	}
	return ok("")
}

func (r *Router) submit(ctx context.Context, owner string, req Request, rd renderer) Reply {
	var created, updated []*task.Task
	var firstErr error
	for _, u := range req.URLs {
		res, err := r.svc.Submit(ctx, command.SubmitRequest{Owner: owner, URL: u, Text: req.Text})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if res.Created {
			created = append(created, res.Task)
		} else {
			updated = append(updated, res.Task)
		}
	}
	if len(created) == 0 && len(updated) == 0 {
		if firstErr == nil {
			firstErr = errors.New("no links submitted")
		}
		return fail(firstErr, "")
	}
	return ok(rd.submitted(created, updated))
}

func ok(text string) Reply {
	return Reply{Text: text, Code: task.CodeOK}
}

func fail(err error, id string) Reply {
	return Reply{Text: errorText(err, id), Code: task.CodeOf(err)}
}
