// Package editor keeps a local copy of dashboard rows, recomputes statistics on
// every edit and persists counters with a per-row debounce.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"turfboard.app/internal/stats"
	"turfboard.app/internal/turf"
)

// DefaultDebounce is the quiet period before an edit is saved.
const DefaultDebounce = 600 * time.Millisecond

// Saver persists both counters of one row and returns the stored row.
type Saver interface {
	SaveCounts(ctx context.Context, slug string, on, off int64) (turf.Login, error)
}

// ErrClosed is returned by Edit after Close.
var ErrClosed = errors.New("editor closed")

// Notice is a transient message about a failed save.
type Notice struct {
	Slug    string
	Message string
	Err     error
}

type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Row is the local view of a login.
type Row struct {
	turf.Login
	Stats   stats.Stats `json:"stats"`
	Pending bool        `json:"pending"`
	Saving  bool        `json:"saving"`
}

type rowState struct {
	login    turf.Login
	inFlight int
}

// Coordinator applies edits locally and schedules saves through a Saver.
type Coordinator struct {
	mu       sync.Mutex
	rows     map[string]*rowState
	saver    Saver
	notifier Notifier
	sched    *Scheduler
	delay    time.Duration
	ctx      context.Context
	closed   bool
}

type Option func(*Coordinator)

func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.delay = d
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithContext sets the context passed to every save.
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

func NewCoordinator(saver Saver, opts ...Option) (*Coordinator, error) {
	if saver == nil {
		return nil, fmt.Errorf("saver is required")
	}
	c := &Coordinator{
		rows:     make(map[string]*rowState),
		saver:    saver,
		notifier: NotifierFunc(func(Notice) {}),
		sched:    NewScheduler(),
		delay:    DefaultDebounce,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Load starts tracking rows, replacing local copies with the same slug.
func (c *Coordinator) Load(rows []turf.Login) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		st, ok := c.rows[row.Slug]
		if !ok {
			c.rows[row.Slug] = &rowState{login: row}
			continue
		}
		st.login = row
	}
}

// Edit replaces both counters of slug, returns the recomputed row and totals
// and schedules a save of exactly these values.
func (c *Coordinator) Edit(slug string, on, off int64) (Row, stats.Aggregate, error) {
	on, off = stats.ClampCount(on), stats.ClampCount(off)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Row{}, stats.Aggregate{}, ErrClosed
	}
	st, ok := c.rows[slug]
	if !ok {
		c.mu.Unlock()
		return Row{}, stats.Aggregate{}, fmt.Errorf("%w: %s", turf.ErrNotFound, slug)
	}
	st.login.OnCount, st.login.OffCount = on, off
	row := c.rowLocked(st, true)
	agg := c.totalsLocked()
	c.mu.Unlock()

	if !c.sched.Schedule(slug, c.delay, func() { c.save(slug, on, off) }) {
		// Close won the race after the local copy changed.
		c.notifier.Notify(Notice{Slug: slug, Message: "edit not saved", Err: ErrClosed})
		return row, agg, ErrClosed
	}
	return row, agg, nil
}

func (c *Coordinator) save(slug string, on, off int64) {
	c.mu.Lock()
	st, ok := c.rows[slug]
	if ok {
		st.inFlight++
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	saved, err := c.saver.SaveCounts(c.ctx, slug, on, off)

	c.mu.Lock()
	st.inFlight--
	if err == nil && !saved.UpdatedAt.IsZero() {
		st.login.UpdatedAt = saved.UpdatedAt
	}
	c.mu.Unlock()

	if err != nil {
		c.notifier.Notify(Notice{Slug: slug, Message: "save failed, try again", Err: err})
	}
}

// Row returns the local state of slug.
func (c *Coordinator) Row(slug string) (Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rows[slug]
	if !ok {
		return Row{}, false
	}
	return c.rowLocked(st, c.sched.Pending(slug)), true
}

// Rows returns every tracked row ordered by display name.
func (c *Coordinator) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Row, 0, len(c.rows))
	for slug, st := range c.rows {
		out = append(out, c.rowLocked(st, c.sched.Pending(slug)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

// Totals aggregates the local counters of every tracked row.
func (c *Coordinator) Totals() stats.Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalsLocked()
}

// Flush saves pending edits immediately and waits until every save returned.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.sched.FireAll()
	return c.sched.Wait(ctx)
}

// Close drops unsaved edits. Saves already running are left alone.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.sched.Stop()
}

func (c *Coordinator) rowLocked(st *rowState, pending bool) Row {
	return Row{
		Login:   st.login,
		Stats:   st.login.Stats(),
		Pending: pending,
		Saving:  st.inFlight > 0,
	}
}

func (c *Coordinator) totalsLocked() stats.Aggregate {
	logins := make([]turf.Login, 0, len(c.rows))
	for _, st := range c.rows {
		logins = append(logins, st.login)
	}
	return stats.Summarize(logins)
}

// ParseCount reads a counter typed by a person. Anything that is not a
// non-negative whole number becomes 0; values past stats.MaxCount are capped.
func ParseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if errors.Is(err, strconv.ErrRange) && n > 0 {
		return stats.MaxCount
	}
	if err != nil {
		return 0
	}
	return stats.ClampCount(n)
}
