package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skalibog/everex/internal/config"
	"github.com/skalibog/everex/internal/exchange"
	"github.com/skalibog/everex/internal/notify"
	"github.com/skalibog/everex/internal/scheduler"
	"github.com/skalibog/everex/internal/storage"
	"github.com/skalibog/everex/internal/trader"
	"github.com/skalibog/everex/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
		time.Sleep(3 * time.Second) // Даем горутинам время на завершение
		os.Exit(0)
	}()

	// Инициализируем хранилище телеметрии
	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}
	defer store.Close()

	// Напоминание о последнем сохраненном решении по каждому символу:
	// полезно после перезапуска, когда позиция могла остаться открытой
	for symbol := range cfg.Trading.Symbols {
		history, err := store.GetCycleHistory(ctx, symbol, 1)
		if err != nil {
			logger.Warn("Не удалось прочитать историю циклов",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(history) > 0 {
			logger.Info("Последний сохраненный цикл",
				zap.String("symbol", symbol),
				zap.String("outcome", history[0].Outcome),
				zap.Time("at", history[0].Timestamp))
		}
	}

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Собираем каналы уведомлений
	notifier, err := notify.NewNotifier(cfg.Notify)
	if err != nil {
		logger.Fatal("Ошибка инициализации уведомлений", zap.Error(err))
	}

	// Создаем оркестратор торговых циклов
	orchestrator := trader.New(client, notifier, store,
		trader.NewSettler(cfg.Trading.Settle), cfg.Trading)

	// Эндпоинт метрик
	if cfg.Metrics.Addr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
				logger.Warn("Эндпоинт метрик остановлен", zap.Error(err))
			}
		}()
	}

	// Запускаем планировщик в основном потоке (блокирующий вызов)
	sched := scheduler.New(cfg.Scheduler, orchestrator.RunAll)
	if err := sched.Run(ctx); err != nil {
		logger.Info("Планировщик остановлен", zap.Error(err))
	}
}
