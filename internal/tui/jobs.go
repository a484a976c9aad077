package tui

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// jobKind names a background job in logs and in the status bar.
type jobKind string

const (
	jobKindLibrary  jobKind = "library"
	jobKindImport   jobKind = "import"
	jobKindOpen     jobKind = "open"
	jobKindClose    jobKind = "close"
	jobKindNavigate jobKind = "navigate"
	jobKindView     jobKind = "view"
	jobKindAnnotate jobKind = "annotate"
	jobKindSearch   jobKind = "search"
	jobKindSpeak    jobKind = "speak"
	jobKindCondense jobKind = "condense"
	jobKindQuestion jobKind = "question"
	jobKindExport   jobKind = "export"
	jobKindDelete   jobKind = "delete"
	jobKindClear    jobKind = "clear"
	jobKindLock     jobKind = "lock"
	jobKindPrefs    jobKind = "prefs"
)

type job struct {
	id      uint64
	kind    jobKind
	started time.Time
}

// jobStartedMsg reaches the update loop before the job's work begins.
type jobStartedMsg struct{ job job }

// jobDoneMsg carries the runner's message once the work is over.
type jobDoneMsg struct {
	job  job
	took time.Duration
	err  error
	msg  tea.Msg
}

type jobRunner func(context.Context) (tea.Msg, error)

type jobBus struct {
	seq    atomic.Uint64
	logger *slog.Logger
}

func newJobBus(logger *slog.Logger) *jobBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobBus{logger: logger}
}

// Start returns a command that announces a job and then runs it off the
// update loop.
func (b *jobBus) Start(kind jobKind, run jobRunner) tea.Cmd {
	j := job{id: b.seq.Add(1), kind: kind, started: time.Now()}
	announce := func() tea.Msg { return jobStartedMsg{job: j} }
	work := func() tea.Msg {
		ctx := context.Background()
		msg, err := run(ctx)
		took := time.Since(j.started)
		if err != nil {
			b.logger.Warn("job failed", "kind", kind, "id", j.id, "took", took, "error", err)
		} else {
			b.logger.Debug("job done", "kind", kind, "id", j.id, "took", took)
		}
		return jobDoneMsg{job: j, took: took, err: err, msg: msg}
	}
	return tea.Sequence(announce, work)
}

// runningJobs holds the jobs that have started and not yet finished.
type runningJobs map[uint64]job

// add records j and reports whether nothing was running before.
func (r runningJobs) add(j job) bool {
	idle := len(r) == 0
	r[j.id] = j
	return idle
}

func (r runningJobs) done(j job) { delete(r, j.id) }

func (r runningJobs) busy() bool { return len(r) > 0 }

// labels lists the running kinds in start order.
func (r runningJobs) labels() []string {
	ids := make([]uint64, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(r[id].kind) + "…"
	}
	return out
}
