package trader

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skalibog/everex/internal/config"
	"github.com/skalibog/everex/internal/notify"
	"github.com/skalibog/everex/internal/storage"
	"github.com/skalibog/everex/pkg/models"
)

type placedOrder struct {
	symbol string
	side   models.OrderSide
	qty    decimal.Decimal
}

type loanCall struct {
	asset  string
	amount decimal.Decimal
}

// mockExchange подставная биржа с заранее заданными данными и записью вызовов
type mockExchange struct {
	price    float64
	lot      models.LotConstraint
	balances map[string]models.AssetBalance
	candles  []*models.Candle

	orderErr  error
	borrowErr error
	repayErr  error
	orderFill models.OrderResult

	orders  []placedOrder
	borrows []loanCall
	repays  []loanCall
}

func (m *mockExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, nil
}

func (m *mockExchange) GetLotConstraint(ctx context.Context, symbol string) (models.LotConstraint, error) {
	return m.lot, nil
}

func (m *mockExchange) GetMarginBalances(ctx context.Context) (map[string]models.AssetBalance, error) {
	return m.balances, nil
}

func (m *mockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	return m.candles, nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty decimal.Decimal) (*models.OrderResult, error) {
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	m.orders = append(m.orders, placedOrder{symbol: symbol, side: side, qty: qty})
	fill := m.orderFill
	return &fill, nil
}

func (m *mockExchange) Borrow(ctx context.Context, asset string, amount decimal.Decimal) error {
	if m.borrowErr != nil {
		return m.borrowErr
	}
	m.borrows = append(m.borrows, loanCall{asset: asset, amount: amount})
	return nil
}

func (m *mockExchange) Repay(ctx context.Context, asset string, amount decimal.Decimal) error {
	if m.repayErr != nil {
		return m.repayErr
	}
	m.repays = append(m.repays, loanCall{asset: asset, amount: amount})
	return nil
}

// mockNotifier записывает события вместо отправки
type mockNotifier struct {
	events []notify.Event
}

func (n *mockNotifier) Notify(ctx context.Context, event notify.Event) {
	n.events = append(n.events, event)
}

func testLot(minQty, step string) models.LotConstraint {
	return models.LotConstraint{
		MinQty:   decimal.RequireFromString(minQty),
		StepSize: decimal.RequireFromString(step),
	}
}

func testTrading() config.TradingConfig {
	return config.TradingConfig{
		QuoteAsset:         "USDT",
		Interval:           "30m",
		CandleLimit:        100,
		PositionCloseValue: 12,
		ShortCapacityQuote: 55,
		RepayBuffer:        1.005,
		Symbols: map[string]config.SymbolConfig{
			"BTCUSDT": {
				NotionalQuote:  40,
				Length:         10,
				MAType:         "WMA",
				Smooth:         3,
				SigLength:      5,
				Lookback:       20,
				LookbackMAType: "WMA",
			},
		},
	}
}

func newTestOrchestrator(ex *mockExchange, n *mockNotifier) *Orchestrator {
	return New(ex, n, storage.NoopStorage{}, &FixedDelaySettler{}, testTrading())
}

// flatCandles возвращает свечи без движения цены: индикатор по ним
// остается неопределенным и сигналов не дает
func flatCandles(n int) []*models.Candle {
	candles := make([]*models.Candle, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		candles[i] = &models.Candle{
			Symbol:   "BTCUSDT",
			Interval: "30m",
			OpenTime: start.Add(time.Duration(i) * 30 * time.Minute),
			Open:     100,
			High:     101,
			Low:      99,
			Close:    100,
			Volume:   1000,
		}
	}
	return candles
}

func TestOpenLong(t *testing.T) {
	ex := &mockExchange{orderFill: models.OrderResult{AvgPrice: 30000, Quantity: 0.00133}}
	o := newTestOrchestrator(ex, &mockNotifier{})

	out := o.openLong(context.Background(), "BTCUSDT",
		config.SymbolConfig{NotionalQuote: 40}, 30000, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeSuccess || out.Action != ActionOpenLong {
		t.Fatalf("исход = %+v, ожидался успешный open_long", out)
	}
	if len(ex.orders) != 1 {
		t.Fatalf("размещено ордеров: %d, ожидался один", len(ex.orders))
	}
	order := ex.orders[0]
	if order.side != models.Buy || order.qty.String() != "0.00133" {
		t.Fatalf("ордер = %+v, ожидалась покупка 0.00133", order)
	}
}

func TestOpenLongBelowMinimum(t *testing.T) {
	ex := &mockExchange{}
	o := newTestOrchestrator(ex, &mockNotifier{})

	out := o.openLong(context.Background(), "BTCUSDT",
		config.SymbolConfig{NotionalQuote: 40}, 30000, testLot("0.01", "0.00001"))

	if out.Kind != OutcomeSkippedBelowMinimum {
		t.Fatalf("исход = %v, ожидался пропуск ниже минимального лота", out.Kind)
	}
	if len(ex.orders) != 0 {
		t.Fatalf("ордер не должен был размещаться: %+v", ex.orders)
	}
}

func TestOpenLongOrderRejected(t *testing.T) {
	ex := &mockExchange{orderErr: errors.New("insufficient balance")}
	o := newTestOrchestrator(ex, &mockNotifier{})

	out := o.openLong(context.Background(), "BTCUSDT",
		config.SymbolConfig{NotionalQuote: 40}, 30000, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeOrderRejected || out.Err == nil {
		t.Fatalf("исход = %+v, ожидался отказ ордера с ошибкой", out)
	}
}

func TestCloseLongSellsFullBalance(t *testing.T) {
	ex := &mockExchange{orderFill: models.OrderResult{AvgPrice: 30000, Quantity: 0.0005}}
	o := newTestOrchestrator(ex, &mockNotifier{})

	// Продается весь баланс, округленный до шага, а не расчет от суммы
	out := o.closeLong(context.Background(), "BTCUSDT", 0.00057, testLot("0.0001", "0.0001"))

	if out.Kind != OutcomeSuccess || out.Action != ActionCloseLong {
		t.Fatalf("исход = %+v, ожидался успешный close_long", out)
	}
	order := ex.orders[0]
	if order.side != models.Sell || order.qty.String() != "0.0005" {
		t.Fatalf("ордер = %+v, ожидалась продажа 0.0005", order)
	}
}

func TestOpenShortBorrowsThenSells(t *testing.T) {
	ex := &mockExchange{orderFill: models.OrderResult{AvgPrice: 30000, Quantity: 0.00133}}
	o := newTestOrchestrator(ex, &mockNotifier{})

	out := o.openShort(context.Background(), "BTCUSDT", "BTC",
		config.SymbolConfig{NotionalQuote: 40}, 30000, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeSuccess || out.Action != ActionOpenShort {
		t.Fatalf("исход = %+v, ожидался успешный open_short", out)
	}
	if len(ex.borrows) != 1 || ex.borrows[0].asset != "BTC" {
		t.Fatalf("заем = %+v, ожидался заем BTC", ex.borrows)
	}
	if !ex.borrows[0].amount.Equal(ex.orders[0].qty) {
		t.Fatalf("количество займа %s не совпадает с ордером %s",
			ex.borrows[0].amount, ex.orders[0].qty)
	}
	if ex.orders[0].side != models.Sell {
		t.Fatalf("после займа ожидалась продажа, получено %+v", ex.orders[0])
	}
}

func TestOpenShortLoanErrorSkipsSell(t *testing.T) {
	ex := &mockExchange{borrowErr: errors.New("loan limit exceeded")}
	o := newTestOrchestrator(ex, &mockNotifier{})

	out := o.openShort(context.Background(), "BTCUSDT", "BTC",
		config.SymbolConfig{NotionalQuote: 40}, 30000, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeLoanError {
		t.Fatalf("исход = %v, ожидалась ошибка займа", out.Kind)
	}
	// При ошибке займа продажа не предпринимается
	if len(ex.orders) != 0 {
		t.Fatalf("ордер не должен был размещаться: %+v", ex.orders)
	}
}

func TestCloseShortRepaysLoan(t *testing.T) {
	ex := &mockExchange{
		orderFill: models.OrderResult{AvgPrice: 30000, Quantity: 0.01015},
		balances: map[string]models.AssetBalance{
			"BTC": {Free: 0.02},
		},
	}
	o := newTestOrchestrator(ex, &mockNotifier{})

	baseBal := models.AssetBalance{Borrowed: 0.01, Interest: 0.0001}
	out := o.closeShort(context.Background(), "BTCUSDT", "BTC", baseBal, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeSuccess || out.Action != ActionCloseShort {
		t.Fatalf("исход = %+v, ожидался успешный close_short", out)
	}
	// Выкуп с буфером: (0.01 + 0.0001) * 1.005, округленный вниз до шага
	order := ex.orders[0]
	if order.side != models.Buy || order.qty.String() != "0.01015" {
		t.Fatalf("ордер = %+v, ожидался выкуп 0.01015", order)
	}
	if len(ex.repays) != 1 || ex.repays[0].amount.String() != "0.0101" {
		t.Fatalf("погашение = %+v, ожидалось 0.0101", ex.repays)
	}
}

func TestCloseShortInsufficientBalanceSkipsRepay(t *testing.T) {
	ex := &mockExchange{
		orderFill: models.OrderResult{AvgPrice: 30000, Quantity: 0.01015},
		balances: map[string]models.AssetBalance{
			"BTC": {Free: 0.0099},
		},
	}
	o := newTestOrchestrator(ex, &mockNotifier{})

	baseBal := models.AssetBalance{Borrowed: 0.01, Interest: 0.0001}
	out := o.closeShort(context.Background(), "BTCUSDT", "BTC", baseBal, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeInsufficientBalanceForRepay {
		t.Fatalf("исход = %v, ожидалась нехватка средств на погашение", out.Kind)
	}
	// Погашение сознательно пропускается, дефицит отражается в исходе
	if len(ex.repays) != 0 {
		t.Fatalf("погашение не должно было вызываться: %+v", ex.repays)
	}
	if math.Abs(out.Deficit-0.0002) > 1e-9 {
		t.Fatalf("дефицит = %v, ожидалось 0.0002", out.Deficit)
	}
}

func TestCloseShortWithoutLoan(t *testing.T) {
	ex := &mockExchange{}
	o := newTestOrchestrator(ex, &mockNotifier{})

	out := o.closeShort(context.Background(), "BTCUSDT", "BTC",
		models.AssetBalance{}, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeNoSignal {
		t.Fatalf("исход = %v, без займа закрывать нечего", out.Kind)
	}
	if len(ex.orders) != 0 {
		t.Fatalf("ордер не должен был размещаться: %+v", ex.orders)
	}
}

func TestCloseShortRepayError(t *testing.T) {
	ex := &mockExchange{
		orderFill: models.OrderResult{AvgPrice: 30000, Quantity: 0.01015},
		balances: map[string]models.AssetBalance{
			"BTC": {Free: 0.02},
		},
		repayErr: errors.New("repay rejected"),
	}
	o := newTestOrchestrator(ex, &mockNotifier{})

	baseBal := models.AssetBalance{Borrowed: 0.01, Interest: 0.0001}
	out := o.closeShort(context.Background(), "BTCUSDT", "BTC", baseBal, testLot("0.00001", "0.00001"))

	if out.Kind != OutcomeLoanError || out.Err == nil {
		t.Fatalf("исход = %+v, ожидалась ошибка займа", out)
	}
}

func TestRunCycleNoSignal(t *testing.T) {
	ex := &mockExchange{
		price:    30000,
		lot:      testLot("0.00001", "0.00001"),
		balances: map[string]models.AssetBalance{},
		candles:  flatCandles(30),
	}
	n := &mockNotifier{}
	o := newTestOrchestrator(ex, n)

	out := o.RunCycle(context.Background(), "BTCUSDT", o.trading.Symbols["BTCUSDT"])

	if out.Kind != OutcomeNoSignal || out.Action != ActionNone {
		t.Fatalf("исход = %+v, ожидалось отсутствие сигнала", out)
	}
	if len(ex.orders)+len(ex.borrows)+len(ex.repays) != 0 {
		t.Fatalf("без сигнала биржевые операции недопустимы")
	}
	if len(n.events) != 1 || n.events[0].Kind != "Нет сигнала" {
		t.Fatalf("события = %+v, ожидалось одно 'Нет сигнала'", n.events)
	}
}

func TestRunCycleNotEnoughCandles(t *testing.T) {
	ex := &mockExchange{
		price:    30000,
		lot:      testLot("0.00001", "0.00001"),
		balances: map[string]models.AssetBalance{},
		candles:  flatCandles(1),
	}
	n := &mockNotifier{}
	o := newTestOrchestrator(ex, n)

	out := o.RunCycle(context.Background(), "BTCUSDT", o.trading.Symbols["BTCUSDT"])

	if out.Kind != OutcomeMarketDataUnavailable || out.Err == nil {
		t.Fatalf("исход = %+v, ожидалась недоступность рыночных данных", out)
	}
	if len(n.events) != 1 || n.events[0].Kind != "Рыночные данные недоступны" {
		t.Fatalf("события = %+v", n.events)
	}
}

func TestEventForDeficit(t *testing.T) {
	out := Outcome{
		Kind:    OutcomeInsufficientBalanceForRepay,
		Action:  ActionCloseShort,
		Deficit: 0.0002,
	}
	event := eventFor("BTCUSDT", out, models.IndicatorRow{})
	if event.Kind != "Недостаточно средств для погашения" {
		t.Fatalf("событие = %+v", event)
	}
	if event.Message != "BTCUSDT: не хватает 0.00020000" {
		t.Fatalf("сообщение = %q", event.Message)
	}
}
