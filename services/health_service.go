package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 5 * time.Second

// DBPinger is satisfied by *sql.DB.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// StoragePinger is satisfied by storage.FileUploader.
type StoragePinger interface {
	Ping(ctx context.Context) error
}

type HealthReport struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
	Elapsed    string            `json:"elapsed"`
}

type HealthService interface {
	Check(ctx context.Context) HealthReport
}

type healthService struct {
	db      DBPinger
	storage StoragePinger
	logger  *slog.Logger
	timeout time.Duration
}

// NewHealthService builds the connectivity check. storage may be nil when
// object storage is not configured.
func NewHealthService(db DBPinger, storage StoragePinger, logger *slog.Logger) HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &healthService{db: db, storage: storage, logger: logger, timeout: healthCheckTimeout}
}

func (s *healthService) Check(ctx context.Context) HealthReport {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var mu sync.Mutex
	report := HealthReport{Healthy: true, Components: map[string]string{}}
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Healthy = false
			report.Components[name] = err.Error()
			s.logger.WarnContext(ctx, "health check failed", slog.String("component", name), slog.Any("error", err))
			return
		}
		report.Components[name] = "ok"
	}

	if s.storage == nil {
		report.Components["storage"] = "disabled"
	}

	// Ошибки не прерывают соседние проверки: каждая пишет свой статус.
	var g errgroup.Group
	g.Go(func() error {
		record("database", s.db.PingContext(ctx))
		return nil
	})
	if s.storage != nil {
		g.Go(func() error {
			record("storage", s.storage.Ping(ctx))
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return report
}
