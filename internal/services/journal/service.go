package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"cadence/internal/eventbus"
	"cadence/internal/services/loop"
	logx "cadence/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config controls the session journal.
type Config struct {
	Enabled       bool
	Path          string
	RetentionDays int    // 0 = 30
	PruneSchedule string // cron spec/descriptor, "" = "@daily"
}

// SessionRecord is one journaled loop session.
type SessionRecord struct {
	ID         string
	Backend    string
	StartedAt  time.Time
	StoppedAt  time.Time // zero while the session is still open
	Frames     uint64
	StopReason string
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus *eventbus.Bus[loop.SessionEvent]

	db *sql.DB
	c  *cron.Cron

	unsub  func()
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, bus *eventbus.Bus[loop.SessionEvent], log logx.Logger) *Service {
	return &Service{cfg: cfg, bus: bus, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start opens the database, applies migrations, subscribes to the bus,
// and schedules the retention prune. No-op when disabled or already
// started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return nil
	}
	if s.db != nil {
		return nil
	}
	path := strings.TrimSpace(s.cfg.Path)
	if path == "" {
		return errors.New("journal.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db

	events, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.consume(ctx, events)

	spec := strings.TrimSpace(s.cfg.PruneSchedule)
	if spec == "" {
		spec = "@daily"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.runPrune() }); err != nil {
		s.log.Warn("invalid prune schedule; falling back to daily", logx.String("spec", spec), logx.Err(err))
		_, _ = c.AddFunc("@daily", func() { s.runPrune() })
	}
	c.Start()
	s.c = c

	s.log.Info("journal started", logx.String("path", path), logx.String("prune", spec))
	return nil
}

// Stop halts the prune schedule, unsubscribes, and closes the database.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	db := s.db
	c := s.c
	unsub := s.unsub
	stopCh := s.stopCh
	s.db = nil
	s.c = nil
	s.unsub = nil
	s.stopCh = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if stopCh != nil {
		close(stopCh)
	}
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
	if db != nil {
		_ = db.Close()
		s.log.Info("journal stopped")
	}
}

func migrate(ctx context.Context, db *sql.DB) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(b))
	return err
}

func (s *Service) consume(ctx context.Context, events <-chan eventbus.Event[loop.SessionEvent]) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		stopCh := s.stopCh
		s.mu.Unlock()
		if stopCh == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.record(e)
		}
	}
}

func (s *Service) record(e eventbus.Event[loop.SessionEvent]) {
	ev := e.Payload
	if ev.SessionID == "" {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	switch e.Topic {
	case loop.EventStarted:
		err = s.insertSession(wctx, ev)
	case loop.EventRestarted:
		err = s.updateFrames(wctx, ev)
	case loop.EventStopped, loop.EventHalted:
		err = s.closeSession(wctx, ev, e.Time)
	default:
		return
	}
	if err != nil {
		s.log.Warn("journal write failed", logx.String("event", string(e.Topic)), logx.String("session", ev.SessionID), logx.Err(err))
	}
}

func (s *Service) insertSession(ctx context.Context, ev loop.SessionEvent) error {
	db := s.database()
	if db == nil {
		return nil
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions(id, backend, started_at, frames) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		ev.SessionID, ev.Backend, ev.Started.UnixMilli(), int64(ev.Frames),
	)
	return err
}

func (s *Service) updateFrames(ctx context.Context, ev loop.SessionEvent) error {
	db := s.database()
	if db == nil {
		return nil
	}
	_, err := db.ExecContext(ctx,
		`UPDATE sessions SET frames = ? WHERE id = ?`,
		int64(ev.Frames), ev.SessionID,
	)
	return err
}

func (s *Service) closeSession(ctx context.Context, ev loop.SessionEvent, at time.Time) error {
	db := s.database()
	if db == nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, frames = ?, stop_reason = ? WHERE id = ?`,
		at.UnixMilli(), int64(ev.Frames), nullStr(ev.Reason), ev.SessionID,
	)
	return err
}

// Recent returns the n most recently started sessions, newest first.
func (s *Service) Recent(ctx context.Context, n int) ([]SessionRecord, error) {
	db := s.database()
	if db == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, backend, started_at, stopped_at, frames, stop_reason
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r       SessionRecord
			started int64
			stopped sql.NullInt64
			frames  int64
			reason  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Backend, &started, &stopped, &frames, &reason); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		if stopped.Valid {
			r.StoppedAt = time.UnixMilli(stopped.Int64)
		}
		r.Frames = uint64(frames)
		r.StopReason = reason.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	removed, err := s.prune(ctx)
	if err != nil {
		s.log.Warn("journal prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		s.log.Info("journal pruned", logx.Int64("sessions", removed))
	}
}

func (s *Service) prune(ctx context.Context) (int64, error) {
	db := s.database()
	if db == nil {
		return 0, nil
	}
	days := s.cfg.RetentionDays
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Service) database() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
