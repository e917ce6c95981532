package reminder

import (
	"fmt"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/linkkeeper/internal/store"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

// Kind names a notification type. Kinds double as ledger key components.
type Kind string

const (
	KindOverdue       Kind = "overdue"
	KindDueToday      Kind = "due_today"
	KindDueTomorrow   Kind = "due_tomorrow"
	KindDueIn3Days    Kind = "due_in_3_days"
	KindDueInWeek     Kind = "due_in_week"
	KindDueIn2Weeks   Kind = "due_in_2_weeks"
	KindDueIn3Weeks   Kind = "due_in_3_weeks"
	KindDueIn4Weeks   Kind = "due_in_4_weeks"
	KindSubmitted     Kind = "submitted"
	KindExpired       Kind = "expired"
	KindDailySummary  Kind = "daily_summary"
	KindWeeklySummary Kind = "weekly_summary"
)

const (
	DefaultSummaryHour  = 9
	DefaultOverdueEvery = 4 * time.Hour

	// MaxCatchUp bounds how far back a window may reach after downtime.
	MaxCatchUp = 7 * 24 * time.Hour

	// SubmittedDelay is how long after creation a task with a deadline gets
	// its confirmation reminder.
	SubmittedDelay = 5 * time.Minute

	dateLayout = "2006-01-02"
)

// deadlineKinds lists the per-deadline kinds from most to least urgent with
// the number of days before the deadline they trigger on.
var deadlineKinds = []struct {
	kind Kind
	days int
}{
	{KindDueToday, 0},
	{KindDueTomorrow, 1},
	{KindDueIn3Days, 3},
	{KindDueInWeek, 7},
	{KindDueIn2Weeks, 14},
	{KindDueIn3Weeks, 21},
	{KindDueIn4Weeks, 28},
}

// Due is one notification the policy decided should go out.
type Due struct {
	Key    store.LedgerKey
	Kind   Kind
	Owner  string
	TaskID string
}

// LedgerView is the read side of the notification ledger.
type LedgerView interface {
	// Done reports whether the occurrence was sent or permanently failed.
	Done(key store.LedgerKey) bool
	// Recorded reports whether any entry exists, pending retries included.
	Recorded(key store.LedgerKey) bool
}

// Policy decides which notifications are due. It never writes the ledger.
type Policy struct {
	loc          *time.Location
	overdueEvery time.Duration
	daily        rcron.Schedule
	weekly       rcron.Schedule
}

// NewPolicy builds a policy evaluating calendar days in loc. Summaries go out
// at summaryHour every day and on Mondays.
func NewPolicy(loc *time.Location, summaryHour int, overdueEvery time.Duration) (*Policy, error) {
	if loc == nil {
		loc = time.Local
	}
	if summaryHour < 0 || summaryHour > 23 {
		return nil, fmt.Errorf("summary hour %d out of range", summaryHour)
	}
	if overdueEvery <= 0 {
		overdueEvery = DefaultOverdueEvery
	}
	daily, err := rcron.ParseStandard(fmt.Sprintf("0 %d * * *", summaryHour))
	if err != nil {
		return nil, fmt.Errorf("parse daily schedule: %w", err)
	}
	weekly, err := rcron.ParseStandard(fmt.Sprintf("0 %d * * 1", summaryHour))
	if err != nil {
		return nil, fmt.Errorf("parse weekly schedule: %w", err)
	}
	return &Policy{loc: loc, overdueEvery: overdueEvery, daily: daily, weekly: weekly}, nil
}

// Location is the time zone calendar days are computed in.
func (p *Policy) Location() *time.Location {
	return p.loc
}

// ForTask returns the deadline notification due for t in the window
// (prev, now]. At most one is returned: the most urgent applicable kind, and
// nothing when that kind's occurrence is already done.
func (p *Policy) ForTask(t *task.Task, prev, now time.Time, ledger LedgerView) []Due {
	if t.Deadline == nil || !t.Active() {
		return nil
	}

	if now.After(*t.Deadline) {
		bucket := int64(now.Sub(*t.Deadline) / p.overdueEvery)
		occ := fmt.Sprintf("%s/%d", now.In(p.loc).Format(dateLayout), bucket)
		return p.emit(t, KindOverdue, occ, ledger)
	}

	today := p.day(now)
	prevDay := p.day(prev)
	deadlineDay := p.day(*t.Deadline)
	occ := now.In(p.loc).Format(dateLayout)

	for _, dk := range deadlineKinds {
		trigger := deadlineDay - int64(dk.days)
		key := p.taskKey(t, dk.kind, occ)
		applicable := trigger == today ||
			(trigger > prevDay && trigger < today) ||
			pending(ledger, key)
		if applicable {
			return p.emit(t, dk.kind, occ, ledger)
		}
	}
	return nil
}

// Submitted returns the one-off confirmation for a task with a deadline. It
// is due when SubmittedDelay after creation falls in (prev, now], or while an
// earlier attempt is still pending.
func (p *Policy) Submitted(t *task.Task, prev, now time.Time, ledger LedgerView) []Due {
	if t.Deadline == nil || !t.Active() {
		return nil
	}
	occ := t.CreatedAt.In(p.loc).Format(dateLayout)
	at := t.CreatedAt.Add(SubmittedDelay)
	inWindow := at.After(prev) && !at.After(now)
	if !inWindow && !pending(ledger, p.taskKey(t, KindSubmitted, occ)) {
		return nil
	}
	return p.emit(t, KindSubmitted, occ, ledger)
}

// Expiry returns the one-off lapse notice for an expired task. It is due when
// the task just transitioned, or while an earlier attempt is still pending.
func (p *Policy) Expiry(t *task.Task, transitioned bool, ledger LedgerView) []Due {
	if t.Status != task.StatusExpired || t.Deadline == nil {
		return nil
	}
	occ := t.Deadline.In(p.loc).Format(dateLayout)
	key := p.taskKey(t, KindExpired, occ)
	if !transitioned && !pending(ledger, key) {
		return nil
	}
	return p.emit(t, KindExpired, occ, ledger)
}

// Summaries returns the daily and weekly summaries due for owner. The latest
// crossing of each schedule inside (prev, now] decides the occurrence.
func (p *Policy) Summaries(owner string, prev, now time.Time, ledger LedgerView) []Due {
	var out []Due
	if at, ok := p.crossing(p.daily, owner, KindDailySummary, prev, now, ledger); ok {
		out = append(out, p.summary(owner, KindDailySummary, p.dailyKey(at), ledger)...)
	}
	if at, ok := p.crossing(p.weekly, owner, KindWeeklySummary, prev, now, ledger); ok {
		out = append(out, p.summary(owner, KindWeeklySummary, p.weeklyKey(at), ledger)...)
	}
	return out
}

// crossing finds the latest schedule time in (prev, now]. A pending retry of
// the most recent occurrence counts as a crossing too.
func (p *Policy) crossing(sched rcron.Schedule, owner string, kind Kind, prev, now time.Time, ledger LedgerView) (time.Time, bool) {
	if at, ok := latest(sched, prev.In(p.loc), now.In(p.loc)); ok {
		return at, true
	}
	at, ok := latest(sched, now.Add(-MaxCatchUp).In(p.loc), now.In(p.loc))
	if !ok {
		return time.Time{}, false
	}
	var occ string
	if kind == KindWeeklySummary {
		occ = p.weeklyKey(at)
	} else {
		occ = p.dailyKey(at)
	}
	if pending(ledger, OwnerKey(owner, kind, occ)) {
		return at, true
	}
	return time.Time{}, false
}

func latest(sched rcron.Schedule, from, to time.Time) (time.Time, bool) {
	next := sched.Next(from)
	if next.IsZero() || next.After(to) {
		return time.Time{}, false
	}
	for {
		after := sched.Next(next)
		if after.IsZero() || after.After(to) {
			return next, true
		}
		next = after
	}
}

func (p *Policy) dailyKey(at time.Time) string {
	return at.In(p.loc).Format(dateLayout)
}

func (p *Policy) weeklyKey(at time.Time) string {
	year, week := at.In(p.loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func (p *Policy) summary(owner string, kind Kind, occ string, ledger LedgerView) []Due {
	key := OwnerKey(owner, kind, occ)
	if ledger != nil && ledger.Done(key) {
		return nil
	}
	return []Due{{Key: key, Kind: kind, Owner: owner}}
}

func (p *Policy) emit(t *task.Task, kind Kind, occ string, ledger LedgerView) []Due {
	key := p.taskKey(t, kind, occ)
	if ledger != nil && ledger.Done(key) {
		return nil
	}
	return []Due{{Key: key, Kind: kind, Owner: t.Owner, TaskID: t.ID}}
}

func (p *Policy) taskKey(t *task.Task, kind Kind, occ string) store.LedgerKey {
	return store.LedgerKey{Subject: t.ID, Kind: string(kind), Occurrence: occ}
}

// day returns the calendar day of t in the policy's zone as a day number.
func (p *Policy) day(t time.Time) int64 {
	y, m, d := t.In(p.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// OwnerKey is the ledger key for notifications aggregated over an owner.
func OwnerKey(owner string, kind Kind, occ string) store.LedgerKey {
	return store.LedgerKey{Subject: "owner:" + owner, Kind: string(kind), Occurrence: occ}
}

func pending(ledger LedgerView, key store.LedgerKey) bool {
	return ledger != nil && ledger.Recorded(key) && !ledger.Done(key)
}
