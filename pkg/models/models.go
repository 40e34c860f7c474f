package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// IndicatorRow представляет расчетные значения осциллятора для одной свечи.
// Индексы выровнены со свечами. Значения периода прогрева хранятся как NaN:
// любое сравнение с NaN ложно, поэтому прогрев никогда не дает сигнала.
type IndicatorRow struct {
	RROF   float64
	RROFs  float64
	Signal float64
	Flags  Flags
}

// Flags представляет торговые флаги одной свечи
type Flags struct {
	LongEntry  bool
	LongExit   bool
	ShortEntry bool
	ShortExit  bool
}

// LotConstraint представляет ограничения лота торговой пары
type LotConstraint struct {
	MinQty   decimal.Decimal
	StepSize decimal.Decimal
}

// AssetBalance представляет состояние актива на маржинальном счете
type AssetBalance struct {
	Free     float64
	Borrowed float64
	Interest float64
}

// OrderSide сторона ордера
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderResult представляет результат исполнения рыночного ордера.
// AvgPrice — средневзвешенная цена по сделкам, Quantity — суммарно
// исполненное количество. Нули, если сделок не было.
type OrderResult struct {
	AvgPrice float64
	Quantity float64
}

// CycleSnapshot представляет телеметрию одного торгового цикла по символу
type CycleSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Outcome   string
	Event     string
	Price     float64
	Quantity  float64
	RROFs     float64
	Signal    float64
}
