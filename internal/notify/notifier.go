package notify

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/everex/internal/config"
	"github.com/skalibog/everex/pkg/logger"
)

// Event представляет уведомление о результате торгового цикла
type Event struct {
	Kind     string // название события
	Message  string // текст для чатовых каналов
	Price    float64
	Quantity float64
	RROFs    float64
	Signal   float64
}

// Notifier принимает события торгового цикла. Доставка fire-and-forget:
// сбой канала логируется и никогда не прерывает цикл.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Channel один канал доставки уведомлений
type Channel interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// MultiNotifier рассылает событие по всем настроенным каналам
type MultiNotifier struct {
	channels []Channel
}

// NewNotifier собирает каналы по конфигурации; каналы без учетных
// данных пропускаются
func NewNotifier(cfg config.NotifyConfig) (*MultiNotifier, error) {
	var channels []Channel

	if cfg.Telegram.Token != "" {
		tg, err := NewTelegramChannel(cfg.Telegram)
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	if cfg.Notion.Token != "" {
		channels = append(channels, NewNotionChannel(cfg.Notion))
	}

	return &MultiNotifier{channels: channels}, nil
}

// Notify отправляет событие во все каналы параллельно
func (n *MultiNotifier) Notify(ctx context.Context, event Event) {
	g, ctx := errgroup.WithContext(ctx)
	for _, ch := range n.channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Send(ctx, event); err != nil {
				logger.Warn("Не удалось отправить уведомление",
					zap.String("channel", ch.Name()),
					zap.String("event", event.Kind),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
