package trader

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/skalibog/everex/internal/config"
)

// Settler определяет стратегию ожидания расчета сделки перед погашением
// займа. check читает свежий баланс и отвечает, достаточно ли средств.
// Стратегия подменяется без изменения остальных ветвей оркестратора.
type Settler interface {
	Settle(ctx context.Context, check func(context.Context) (bool, error)) (bool, error)
}

// NewSettler создает стратегию ожидания по конфигурации
func NewSettler(cfg config.SettleConfig) Settler {
	if cfg.Mode == "poll" {
		return &PollingSettler{
			Timeout:  time.Duration(cfg.TimeoutMs) * time.Millisecond,
			MinDelay: time.Duration(cfg.MinDelayMs) * time.Millisecond,
			MaxDelay: time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		}
	}
	return &FixedDelaySettler{Delay: time.Duration(cfg.DelayMs) * time.Millisecond}
}

// FixedDelaySettler ждет фиксированную паузу и проверяет баланс один раз.
// Пауза подобрана под типичное время расчета сделки и не гарантирует
// корректность — только совместимость по времени исполнения.
type FixedDelaySettler struct {
	Delay time.Duration
}

func (s *FixedDelaySettler) Settle(ctx context.Context, check func(context.Context) (bool, error)) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(s.Delay):
	}
	return check(ctx)
}

// PollingSettler опрашивает баланс с нарастающей задержкой, пока средств
// не станет достаточно или не истечет таймаут
type PollingSettler struct {
	Timeout  time.Duration
	MinDelay time.Duration
	MaxDelay time.Duration
}

func (s *PollingSettler) Settle(ctx context.Context, check func(context.Context) (bool, error)) (bool, error) {
	b := &backoff.Backoff{
		Min:    s.MinDelay,
		Max:    s.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	deadline := time.Now().Add(s.Timeout)

	for {
		ok, err := check(ctx)
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}
