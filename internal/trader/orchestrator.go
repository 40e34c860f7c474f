package trader

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/everex/internal/config"
	"github.com/skalibog/everex/internal/exchange"
	"github.com/skalibog/everex/internal/indicator"
	"github.com/skalibog/everex/internal/metrics"
	"github.com/skalibog/everex/internal/notify"
	"github.com/skalibog/everex/internal/signal"
	"github.com/skalibog/everex/internal/sizing"
	"github.com/skalibog/everex/internal/storage"
	"github.com/skalibog/everex/pkg/logger"
	"github.com/skalibog/everex/pkg/models"
)

// Action действие, выбранное оркестратором в цикле
type Action string

const (
	ActionNone       Action = "none"
	ActionOpenLong   Action = "open_long"
	ActionCloseLong  Action = "close_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseShort Action = "close_short"
)

// OutcomeKind вариант исхода ветви торгового цикла
type OutcomeKind string

const (
	OutcomeSuccess                     OutcomeKind = "success"
	OutcomeSkippedBelowMinimum         OutcomeKind = "skipped_below_minimum"
	OutcomeMarketDataUnavailable       OutcomeKind = "market_data_unavailable"
	OutcomeOrderRejected               OutcomeKind = "order_rejected"
	OutcomeLoanError                   OutcomeKind = "loan_error"
	OutcomeInsufficientBalanceForRepay OutcomeKind = "insufficient_balance_for_repay"
	OutcomeNoSignal                    OutcomeKind = "no_signal"
)

// Outcome представляет исход одного торгового цикла по символу.
// Ошибки ветвей не выбрасываются наружу — оркестратор выбирает
// содержание уведомления по варианту исхода.
type Outcome struct {
	Kind    OutcomeKind
	Action  Action
	Order   models.OrderResult
	Deficit float64
	Err     error
}

// Orchestrator управляет позицией по каждому символу. Состояние позиции
// не хранится между циклами: оно каждый раз выводится заново из текущих
// балансов счета, поэтому внешние вмешательства (ручные сделки) не
// ломают логику.
type Orchestrator struct {
	exchange exchange.Exchange
	notifier notify.Notifier
	storage  storage.Storage
	settler  Settler
	trading  config.TradingConfig
}

// New создает оркестратор с внедренными коллабораторами
func New(ex exchange.Exchange, notifier notify.Notifier, store storage.Storage, settler Settler, trading config.TradingConfig) *Orchestrator {
	return &Orchestrator{
		exchange: ex,
		notifier: notifier,
		storage:  store,
		settler:  settler,
		trading:  trading,
	}
}

// RunAll последовательно обрабатывает все настроенные символы.
// Сбой одного символа не влияет на остальные.
func (o *Orchestrator) RunAll(ctx context.Context) {
	symbols := make([]string, 0, len(o.trading.Symbols))
	for symbol := range o.trading.Symbols {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		out := o.RunCycle(ctx, symbol, o.trading.Symbols[symbol])
		if out.Err != nil {
			logger.Warn("Цикл завершился с ошибкой",
				zap.String("symbol", symbol),
				zap.String("outcome", string(out.Kind)),
				zap.Error(out.Err))
		}
	}
}

// RunCycle выполняет один торговый цикл по символу: свежие рыночные
// данные, расчет индикатора, выбор ветви, исполнение и отчет
func (o *Orchestrator) RunCycle(ctx context.Context, symbol string, sc config.SymbolConfig) Outcome {
	row := models.IndicatorRow{
		RROF:   math.NaN(),
		RROFs:  math.NaN(),
		Signal: math.NaN(),
	}
	out := o.runSymbol(ctx, symbol, sc, &row)
	o.report(ctx, symbol, out, row)
	return out
}

// runSymbol собирает данные и выбирает ровно одну ветвь по приоритету
func (o *Orchestrator) runSymbol(ctx context.Context, symbol string, sc config.SymbolConfig, row *models.IndicatorRow) Outcome {
	base := strings.TrimSuffix(symbol, o.trading.QuoteAsset)

	// Балансы, свечи, цена и лот читаются заново каждый цикл: счет
	// может меняться извне между запусками
	balances, err := o.exchange.GetMarginBalances(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeMarketDataUnavailable, Action: ActionNone, Err: err}
	}

	candles, err := o.exchange.GetKlines(ctx, symbol, o.trading.Interval, o.trading.CandleLimit)
	if err != nil {
		return Outcome{Kind: OutcomeMarketDataUnavailable, Action: ActionNone, Err: err}
	}
	if len(candles) < 2 {
		return Outcome{Kind: OutcomeMarketDataUnavailable, Action: ActionNone,
			Err: fmt.Errorf("недостаточно свечей для анализа: %d", len(candles))}
	}

	rows := indicator.Compute(candles, paramsFor(sc))
	signal.Annotate(rows)

	// Решение принимается по последней закрытой свече: последняя строка
	// еще формируется и в расчет не берется
	*row = rows[len(rows)-2]
	lastClose := candles[len(candles)-2].Close

	price, err := o.exchange.GetPrice(ctx, symbol)
	if err != nil {
		return Outcome{Kind: OutcomeMarketDataUnavailable, Action: ActionNone, Err: err}
	}

	lot, err := o.exchange.GetLotConstraint(ctx, symbol)
	if err != nil {
		return Outcome{Kind: OutcomeMarketDataUnavailable, Action: ActionNone, Err: err}
	}

	baseBal := balances[base]
	quoteFree := balances[o.trading.QuoteAsset].Free
	positionValue := baseBal.Free * lastClose
	flags := row.Flags

	logger.Debug("Состояние перед выбором ветви",
		zap.String("symbol", symbol),
		zap.Float64("position_value", positionValue),
		zap.Float64("quote_free", quoteFree),
		zap.Float64("rrof_s", row.RROFs),
		zap.Float64("signal", row.Signal))

	switch {
	case positionValue <= o.trading.PositionCloseValue && flags.LongEntry:
		return o.openLong(ctx, symbol, sc, price, lot)
	case positionValue >= o.trading.PositionCloseValue && flags.LongExit:
		return o.closeLong(ctx, symbol, baseBal.Free, lot)
	case quoteFree <= o.trading.ShortCapacityQuote && flags.ShortEntry:
		return o.openShort(ctx, symbol, base, sc, price, lot)
	case quoteFree >= o.trading.ShortCapacityQuote && flags.ShortExit:
		return o.closeShort(ctx, symbol, base, baseBal, lot)
	default:
		return Outcome{Kind: OutcomeNoSignal, Action: ActionNone}
	}
}

// openLong покупает на настроенную сумму котируемой валюты
func (o *Orchestrator) openLong(ctx context.Context, symbol string, sc config.SymbolConfig, price float64, lot models.LotConstraint) Outcome {
	qty, ok := sizing.ByNotional(sc.NotionalQuote, price, lot)
	if !ok {
		return Outcome{Kind: OutcomeSkippedBelowMinimum, Action: ActionOpenLong}
	}

	result, err := o.exchange.PlaceMarketOrder(ctx, symbol, models.Buy, qty)
	if err != nil {
		return Outcome{Kind: OutcomeOrderRejected, Action: ActionOpenLong, Err: err}
	}
	metrics.OrdersSubmitted.WithLabelValues(symbol, string(models.Buy)).Inc()

	return Outcome{Kind: OutcomeSuccess, Action: ActionOpenLong, Order: *result}
}

// closeLong продает весь удерживаемый баланс, округленный до шага лота,
// а не количество, рассчитанное от суммы
func (o *Orchestrator) closeLong(ctx context.Context, symbol string, baseFree float64, lot models.LotConstraint) Outcome {
	qty := sizing.FullBalance(baseFree, lot.StepSize)
	if qty.LessThan(lot.MinQty) {
		return Outcome{Kind: OutcomeSkippedBelowMinimum, Action: ActionCloseLong}
	}

	result, err := o.exchange.PlaceMarketOrder(ctx, symbol, models.Sell, qty)
	if err != nil {
		return Outcome{Kind: OutcomeOrderRejected, Action: ActionCloseLong, Err: err}
	}
	metrics.OrdersSubmitted.WithLabelValues(symbol, string(models.Sell)).Inc()

	return Outcome{Kind: OutcomeSuccess, Action: ActionCloseLong, Order: *result}
}

// openShort занимает базовый актив и продает его: шорт через заем.
// При ошибке займа продажа не предпринимается.
func (o *Orchestrator) openShort(ctx context.Context, symbol, base string, sc config.SymbolConfig, price float64, lot models.LotConstraint) Outcome {
	qty, ok := sizing.ByNotional(sc.NotionalQuote, price, lot)
	if !ok {
		return Outcome{Kind: OutcomeSkippedBelowMinimum, Action: ActionOpenShort}
	}

	if err := o.exchange.Borrow(ctx, base, qty); err != nil {
		return Outcome{Kind: OutcomeLoanError, Action: ActionOpenShort, Err: err}
	}

	result, err := o.exchange.PlaceMarketOrder(ctx, symbol, models.Sell, qty)
	if err != nil {
		return Outcome{Kind: OutcomeOrderRejected, Action: ActionOpenShort, Err: err}
	}
	metrics.OrdersSubmitted.WithLabelValues(symbol, string(models.Sell)).Inc()

	return Outcome{Kind: OutcomeSuccess, Action: ActionOpenShort, Order: *result}
}

// closeShort выкупает занятый актив с запасом, дожидается расчета сделки
// и погашает заем. Если средств после расчета не хватает, погашение
// сознательно пропускается: попытка вернуть больше, чем есть на счете,
// завершилась бы ошибкой биржи.
func (o *Orchestrator) closeShort(ctx context.Context, symbol, base string, baseBal models.AssetBalance, lot models.LotConstraint) Outcome {
	repay := decimal.NewFromFloat(baseBal.Borrowed).
		Add(decimal.NewFromFloat(baseBal.Interest)).
		Round(8)
	if repay.Sign() <= 0 {
		logger.Debug("Заем отсутствует, закрывать нечего", zap.String("symbol", symbol))
		return Outcome{Kind: OutcomeNoSignal, Action: ActionCloseShort}
	}

	buyback := sizing.Quantize(repay.Mul(decimal.NewFromFloat(o.trading.RepayBuffer)), lot.StepSize)
	if buyback.LessThan(lot.MinQty) {
		return Outcome{Kind: OutcomeSkippedBelowMinimum, Action: ActionCloseShort}
	}

	result, err := o.exchange.PlaceMarketOrder(ctx, symbol, models.Buy, buyback)
	if err != nil {
		return Outcome{Kind: OutcomeOrderRejected, Action: ActionCloseShort, Err: err}
	}
	metrics.OrdersSubmitted.WithLabelValues(symbol, string(models.Buy)).Inc()

	repayAmount, _ := repay.Float64()
	var freeAfter float64
	settled, err := o.settler.Settle(ctx, func(ctx context.Context) (bool, error) {
		balances, err := o.exchange.GetMarginBalances(ctx)
		if err != nil {
			return false, err
		}
		freeAfter = balances[base].Free
		return freeAfter >= repayAmount, nil
	})
	if err != nil {
		return Outcome{Kind: OutcomeMarketDataUnavailable, Action: ActionCloseShort, Order: *result, Err: err}
	}
	if !settled {
		return Outcome{
			Kind:    OutcomeInsufficientBalanceForRepay,
			Action:  ActionCloseShort,
			Order:   *result,
			Deficit: repayAmount - freeAfter,
		}
	}

	if err := o.exchange.Repay(ctx, base, repay); err != nil {
		return Outcome{Kind: OutcomeLoanError, Action: ActionCloseShort, Order: *result, Err: err}
	}

	return Outcome{Kind: OutcomeSuccess, Action: ActionCloseShort, Order: *result}
}

// report рассылает уведомление, обновляет метрики и сохраняет телеметрию
func (o *Orchestrator) report(ctx context.Context, symbol string, out Outcome, row models.IndicatorRow) {
	event := eventFor(symbol, out, row)
	o.notifier.Notify(ctx, event)

	metrics.CyclesTotal.WithLabelValues(symbol, string(out.Kind)).Inc()
	if !math.IsNaN(row.RROFs) {
		metrics.OscillatorValue.WithLabelValues(symbol).Set(row.RROFs)
	}

	snap := &models.CycleSnapshot{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Outcome:   string(out.Kind),
		Event:     event.Kind,
		Price:     out.Order.AvgPrice,
		Quantity:  out.Order.Quantity,
		RROFs:     row.RROFs,
		Signal:    row.Signal,
	}
	if err := o.storage.SaveCycle(ctx, snap); err != nil {
		logger.Warn("Не удалось сохранить телеметрию цикла",
			zap.String("symbol", symbol), zap.Error(err))
	}

	logger.Info("Цикл завершен",
		zap.String("symbol", symbol),
		zap.String("action", string(out.Action)),
		zap.String("outcome", string(out.Kind)))
}

// eventFor выбирает содержание уведомления по варианту исхода.
// Успешные события несут цену, количество и значения осциллятора;
// сбои и отсутствие сигнала — нули, как и описание причины.
func eventFor(symbol string, out Outcome, row models.IndicatorRow) notify.Event {
	success := func(kind, emoji string) notify.Event {
		return notify.Event{
			Kind: kind,
			Message: emoji + " " + symbol + ": " +
				formatFill(out.Order),
			Price:    out.Order.AvgPrice,
			Quantity: out.Order.Quantity,
			RROFs:    row.RROFs,
			Signal:   row.Signal,
		}
	}
	failure := func(kind string) notify.Event {
		msg := symbol
		if out.Err != nil {
			msg = symbol + ": " + out.Err.Error()
		}
		return notify.Event{Kind: kind, Message: msg}
	}

	switch out.Kind {
	case OutcomeSuccess:
		switch out.Action {
		case ActionOpenLong:
			return success("Лонг открыт", "📈")
		case ActionCloseLong:
			return success("Лонг закрыт", "📉")
		case ActionOpenShort:
			return success("Шорт открыт", "📉")
		default:
			return success("Шорт закрыт", "📈")
		}
	case OutcomeSkippedBelowMinimum:
		return failure("Ордер ниже минимального лота")
	case OutcomeMarketDataUnavailable:
		return failure("Рыночные данные недоступны")
	case OutcomeOrderRejected:
		return failure("Ордер отклонен")
	case OutcomeLoanError:
		return failure("Ошибка операции займа")
	case OutcomeInsufficientBalanceForRepay:
		ev := failure("Недостаточно средств для погашения")
		ev.Message = fmt.Sprintf("%s: не хватает %.8f", symbol, out.Deficit)
		return ev
	default:
		return failure("Нет сигнала")
	}
}

func formatFill(order models.OrderResult) string {
	return fmt.Sprintf("%.2f @ %.8f", order.AvgPrice, order.Quantity)
}

// paramsFor переводит конфигурацию символа в параметры индикатора
func paramsFor(sc config.SymbolConfig) indicator.Params {
	return indicator.Params{
		Length:         sc.Length,
		MAType:         indicator.MAType(sc.MAType),
		Smooth:         sc.Smooth,
		SigLength:      sc.SigLength,
		Lookback:       sc.Lookback,
		LookbackMAType: indicator.MAType(sc.LookbackMAType),
	}
}
