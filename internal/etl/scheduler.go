package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SchedulerConfig wires the batch size for each cycle-driven procedure.
// ParseNewHits, MatchVisits, and MatchLegacyVisits run sequentially every
// cycle (default 60s); MaterializeVisitorScores rides the same cycle since
// it is cheap and per-visit; MaterializeCustomerSummary runs daily at 3 AM
// plus weekly/monthly boundaries (§4.7, §5 "only one ETL cycle runs at a
// time per process").
type SchedulerConfig struct {
	Pool            *pgxpool.Pool
	Logger          *zap.Logger
	CycleInterval   time.Duration
	BatchSize       int
}

// Scheduler runs the ETL batch procedures on gocron/v2 schedules.
type Scheduler struct {
	cfg       SchedulerConfig
	scheduler gocron.Scheduler
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("etl: creating gocron scheduler: %w", err)
	}
	return &Scheduler{cfg: cfg, scheduler: s}, nil
}

// Start registers every batch job and starts the scheduler. It does not
// block; call Shutdown to stop it.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.CycleInterval),
		gocron.NewTask(func() { s.runCycle(ctx) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return fmt.Errorf("etl: registering ETL cycle job: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() { s.runCustomerSummary(ctx, "D", dayStart(time.Now().AddDate(0, 0, -1))) }),
	); err != nil {
		return fmt.Errorf("etl: registering daily customer summary job: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.WeeklyJob(1, gocron.NewWeekdays(time.Monday), gocron.NewAtTimes(gocron.NewAtTime(3, 30, 0))),
		gocron.NewTask(func() { s.runCustomerSummary(ctx, "W", weekStart(time.Now().AddDate(0, 0, -7))) }),
	); err != nil {
		return fmt.Errorf("etl: registering weekly customer summary job: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.MonthlyJob(1, gocron.NewDaysOfTheMonth(1), gocron.NewAtTimes(gocron.NewAtTime(4, 0, 0))),
		gocron.NewTask(func() { s.runCustomerSummary(ctx, "M", monthStart(time.Now().AddDate(0, -1, 0))) }),
	); err != nil {
		return fmt.Errorf("etl: registering monthly customer summary job: %w", err)
	}

	s.scheduler.Start()
	return nil
}

// Shutdown stops the scheduler, waiting for the in-flight job (if any) to
// finish.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// runCycle runs ParseNewHits, MatchVisits, MatchLegacyVisits, and
// MaterializeVisitorScores sequentially — one ETL cycle at a time.
func (s *Scheduler) runCycle(ctx context.Context) {
	log := s.cfg.Logger

	parsed, err := ParseNewHits(ctx, s.cfg.Pool, s.cfg.BatchSize, log)
	if err != nil {
		log.Error("ParseNewHits failed", zap.Error(err))
	} else if parsed.Parsed > 0 {
		log.Info("ParseNewHits advanced", zap.Int64("last_id", parsed.LastID), zap.Int64("parsed", parsed.Parsed))
	}

	emailMatched, err := MatchVisits(ctx, s.cfg.Pool, s.cfg.BatchSize, log)
	if err != nil {
		log.Error("MatchVisits failed", zap.Error(err))
	} else if emailMatched.Matched > 0 {
		log.Info("MatchVisits advanced", zap.Int64("last_id", emailMatched.LastID), zap.Int64("matched", emailMatched.Matched))
	}

	ipMatched, err := MatchLegacyVisits(ctx, s.cfg.Pool, s.cfg.BatchSize, log)
	if err != nil {
		log.Error("MatchLegacyVisits failed", zap.Error(err))
	} else if ipMatched.Matched > 0 {
		log.Info("MatchLegacyVisits advanced", zap.Int64("last_id", ipMatched.LastID), zap.Int64("matched", ipMatched.Matched))
	}

	scored, err := MaterializeVisitorScores(ctx, s.cfg.Pool, s.cfg.BatchSize, log)
	if err != nil {
		log.Error("MaterializeVisitorScores failed", zap.Error(err))
	} else if scored.Scored > 0 {
		log.Info("MaterializeVisitorScores advanced", zap.Int64("last_id", scored.LastID), zap.Int64("scored", scored.Scored))
	}
}

func (s *Scheduler) runCustomerSummary(ctx context.Context, periodType string, periodStart time.Time) {
	result, err := MaterializeCustomerSummary(ctx, s.cfg.Pool, periodType, periodStart, s.cfg.Logger)
	if err != nil {
		s.cfg.Logger.Error("MaterializeCustomerSummary failed",
			zap.String("period_type", periodType), zap.Time("period_start", periodStart), zap.Error(err))
		return
	}
	s.cfg.Logger.Info("MaterializeCustomerSummary advanced",
		zap.String("period_type", periodType), zap.Time("period_start", periodStart), zap.Int("companies", result.Companies))
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := int(d.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return d.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
