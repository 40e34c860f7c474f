package config

import (
	"fmt"
	"io/ioutil"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/skalibog/everex/pkg/logger"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance   BinanceConfig   `yaml:"binance"`
	Trading   TradingConfig   `yaml:"trading"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торговли. Пороговые значения
// PositionCloseValue и ShortCapacityQuote кодируют размер счета, поэтому
// задаются конфигурацией, а не константами в коде.
type TradingConfig struct {
	QuoteAsset  string `yaml:"quote_asset"`
	Interval    string `yaml:"interval"`
	CandleLimit int    `yaml:"candle_limit"`

	// Порог стоимости удерживаемого актива (в котируемой валюте):
	// не ниже порога — лонг считается открытым и подлежит закрытию
	PositionCloseValue float64 `yaml:"position_close_value"`
	// Порог свободной котируемой валюты: не выше порога — считается,
	// что есть возможность открыть шорт
	ShortCapacityQuote float64 `yaml:"short_capacity_quote"`
	// Запас при выкупе перед погашением займа; покрывает проценты,
	// набежавшие за время расчета сделки
	RepayBuffer float64 `yaml:"repay_buffer"`

	Settle  SettleConfig            `yaml:"settle"`
	Symbols map[string]SymbolConfig `yaml:"symbols"`
}

// SymbolConfig содержит параметры стратегии для одного символа
type SymbolConfig struct {
	NotionalQuote  float64 `yaml:"notional_quote"`
	Length         int     `yaml:"length"`
	MAType         string  `yaml:"ma_type"`
	Smooth         int     `yaml:"smooth"`
	SigLength      int     `yaml:"sig_length"`
	Lookback       int     `yaml:"lookback"`
	LookbackMAType string  `yaml:"lookback_ma_type"`
}

// SettleConfig настройки ожидания расчета сделки перед погашением займа
type SettleConfig struct {
	Mode       string `yaml:"mode"` // fixed или poll
	DelayMs    int    `yaml:"delay_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	MinDelayMs int    `yaml:"min_delay_ms"`
	MaxDelayMs int    `yaml:"max_delay_ms"`
}

// SchedulerConfig настройки расписания запуска циклов
type SchedulerConfig struct {
	PeriodMinutes     int `yaml:"period_minutes"`
	StartDelaySeconds int `yaml:"start_delay_seconds"`
}

// NotifyConfig настройки каналов уведомлений
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Notion   NotionConfig   `yaml:"notion"`
}

// TelegramConfig настройки Telegram-канала
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// NotionConfig настройки записи результатов в базу Notion
type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// StorageConfig настройки хранения телеметрии циклов
type StorageConfig struct {
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// MetricsConfig настройки HTTP-эндпоинта метрик; пустой адрес отключает
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load загружает конфигурацию из файла, применяет значения по умолчанию
// и проверяет корректность
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Загружена конфигурация",
		zap.String("path", path),
		zap.Int("symbols", len(config.Trading.Symbols)))
	return &config, nil
}

func (c *Config) applyDefaults() {
	t := &c.Trading
	if t.QuoteAsset == "" {
		t.QuoteAsset = "USDT"
	}
	if t.Interval == "" {
		t.Interval = "30m"
	}
	if t.CandleLimit == 0 {
		t.CandleLimit = 100
	}
	if t.PositionCloseValue == 0 {
		t.PositionCloseValue = 12
	}
	if t.ShortCapacityQuote == 0 {
		t.ShortCapacityQuote = 55
	}
	if t.RepayBuffer == 0 {
		t.RepayBuffer = 1.005
	}
	if t.Settle.Mode == "" {
		t.Settle.Mode = "fixed"
	}
	if t.Settle.DelayMs == 0 {
		t.Settle.DelayMs = 1500
	}
	if t.Settle.TimeoutMs == 0 {
		t.Settle.TimeoutMs = 15000
	}
	if t.Settle.MinDelayMs == 0 {
		t.Settle.MinDelayMs = 500
	}
	if t.Settle.MaxDelayMs == 0 {
		t.Settle.MaxDelayMs = 4000
	}

	for symbol, sc := range t.Symbols {
		if sc.Length == 0 {
			sc.Length = 10
		}
		if sc.MAType == "" {
			sc.MAType = "WMA"
		}
		if sc.Smooth == 0 {
			sc.Smooth = 3
		}
		if sc.SigLength == 0 {
			sc.SigLength = 5
		}
		if sc.Lookback == 0 {
			sc.Lookback = 20
		}
		if sc.LookbackMAType == "" {
			sc.LookbackMAType = "WMA"
		}
		t.Symbols[symbol] = sc
	}

	if c.Scheduler.PeriodMinutes == 0 {
		c.Scheduler.PeriodMinutes = 30
	}
	if c.Scheduler.StartDelaySeconds == 0 {
		c.Scheduler.StartDelaySeconds = 5
	}
}

// Validate проверяет, что параметры находятся в допустимых пределах
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("не задан ни один торговый символ")
	}
	if c.Trading.RepayBuffer < 1 {
		return fmt.Errorf("repay_buffer (%f) должен быть не меньше 1", c.Trading.RepayBuffer)
	}
	if c.Trading.PositionCloseValue <= 0 {
		return fmt.Errorf("position_close_value (%f) должен быть положительным", c.Trading.PositionCloseValue)
	}
	if c.Trading.ShortCapacityQuote <= 0 {
		return fmt.Errorf("short_capacity_quote (%f) должен быть положительным", c.Trading.ShortCapacityQuote)
	}
	if mode := c.Trading.Settle.Mode; mode != "fixed" && mode != "poll" {
		return fmt.Errorf("неизвестный режим ожидания расчета: %q", mode)
	}
	for symbol, sc := range c.Trading.Symbols {
		if sc.NotionalQuote <= 0 {
			return fmt.Errorf("%s: notional_quote (%f) должен быть положительным", symbol, sc.NotionalQuote)
		}
		if sc.Length <= 0 || sc.Smooth <= 0 || sc.SigLength <= 0 || sc.Lookback <= 0 {
			return fmt.Errorf("%s: периоды индикатора должны быть положительными", symbol)
		}
	}
	return nil
}
