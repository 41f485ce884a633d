package healthwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultSchedule は既定のチェック間隔（5分毎）
const DefaultSchedule = "*/5 * * * *"

// CheckFunc は1件のヘルスチェック。成否とメッセージを返す
type CheckFunc func(ctx context.Context) (bool, string)

// Status はチェック結果
type Status struct {
	Name      string    `json:"name"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// Watcher はcron式に従って登録済みチェックを定期実行する
type Watcher struct {
	schedule string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	checks   map[string]CheckFunc
	statuses map[string]Status
}

// New は新しいWatcherを作成
// schedule が空の場合は DefaultSchedule を使う
func New(schedule string, logger *slog.Logger) (*Watcher, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid health check schedule: %q", schedule)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
		checks:   make(map[string]CheckFunc),
		statuses: make(map[string]Status),
	}, nil
}

// Schedule はcron式を返す
func (w *Watcher) Schedule() string {
	return w.schedule
}

// Register はチェックを登録（同名は上書き）
func (w *Watcher) Register(name string, fn CheckFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checks[name] = fn
}

// RunOnce は全チェックを1回実行し、結果を返す
func (w *Watcher) RunOnce(ctx context.Context) []Status {
	w.mu.RLock()
	names := make([]string, 0, len(w.checks))
	checks := make(map[string]CheckFunc, len(w.checks))
	for name, fn := range w.checks {
		names = append(names, name)
		checks[name] = fn
	}
	w.mu.RUnlock()
	sort.Strings(names)

	results := make([]Status, 0, len(names))
	for _, name := range names {
		ok, msg := checks[name](ctx)
		st := Status{Name: name, OK: ok, Message: msg, CheckedAt: w.now()}
		results = append(results, st)
		if !ok {
			w.logger.Warn("health check failed", "check", name, "message", msg)
		}
	}

	w.mu.Lock()
	for _, st := range results {
		w.statuses[st.Name] = st
	}
	w.mu.Unlock()
	return results
}

// Next は基準時刻より後の次回実行時刻を返す
func (w *Watcher) Next(ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(w.schedule, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute next tick: %w", err)
	}
	return next, nil
}

// Run は ctx がキャンセルされるまでスケジュールに従ってチェックを実行する
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("health watch started", "schedule", w.schedule)
	for {
		next, err := w.Next(w.now())
		if err != nil {
			return err
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("health watch stopped")
			return nil
		case <-timer.C:
			w.RunOnce(ctx)
		}
	}
}

// Statuses は最新のチェック結果を名前順に返す
func (w *Watcher) Statuses() []Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Status, 0, len(w.statuses))
	for _, st := range w.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy は全ての記録済みチェックが成功しているかを返す
// 一度も実行していない場合は true
func (w *Watcher) Healthy() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, st := range w.statuses {
		if !st.OK {
			return false
		}
	}
	return true
}
