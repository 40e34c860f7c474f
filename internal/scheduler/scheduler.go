package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/everex/internal/config"
	"github.com/skalibog/everex/pkg/logger"
)

// Scheduler запускает торговый цикл по выровненному расписанию:
// при периоде 30 минут — каждый час в :00 и :30. Каждый запуск
// независим, состояние между запусками не переносится.
type Scheduler struct {
	period     time.Duration
	startDelay time.Duration
	run        func(context.Context)
}

// New создает планировщик, вызывающий run по расписанию
func New(cfg config.SchedulerConfig, run func(context.Context)) *Scheduler {
	return &Scheduler{
		period:     time.Duration(cfg.PeriodMinutes) * time.Minute,
		startDelay: time.Duration(cfg.StartDelaySeconds) * time.Second,
		run:        run,
	}
}

// Run блокирует до отмены контекста, запуская цикл на каждой границе
// периода с небольшой задержкой старта
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		wait := time.Until(nextBoundary(time.Now(), s.period))
		logger.Info("Ожидание следующего запуска",
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.startDelay):
		}

		s.run(ctx)
	}
}

// nextBoundary возвращает ближайшую будущую границу периода
func nextBoundary(now time.Time, period time.Duration) time.Time {
	return now.Truncate(period).Add(period)
}
