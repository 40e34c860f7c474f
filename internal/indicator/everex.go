package indicator

import (
	"math"

	"github.com/skalibog/everex/pkg/models"
)

// MAType тип скользящей средней
type MAType string

const (
	SMA MAType = "SMA"
	EMA MAType = "EMA"
	WMA MAType = "WMA"
	HMA MAType = "HMA"
	RMA MAType = "RMA"
)

// Params представляет параметры расчета осциллятора EVEREX
type Params struct {
	Length         int
	MAType         MAType
	Smooth         int
	SigLength      int
	Lookback       int
	LookbackMAType MAType
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{
		Length:         10,
		MAType:         WMA,
		Smooth:         3,
		SigLength:      5,
		Lookback:       20,
		LookbackMAType: WMA,
	}
}

// Compute рассчитывает осциллятор EVEREX по последовательности свечей.
// Чистая функция: на входе хронологически упорядоченные свечи, на выходе
// выровненный по индексам срез строк индикатора. Значения, для которых
// не хватает истории, остаются NaN.
func Compute(candles []*models.Candle, p Params) []models.IndicatorRow {
	n := len(candles)
	rows := make([]models.IndicatorRow, n)
	if n == 0 {
		return rows
	}

	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	close := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range candles {
		open[i] = c.Open
		high[i] = c.High
		low[i] = c.Low
		close[i] = c.Close
		// Нулевой объем заменяется единицей, чтобы не делить на ноль
		if c.Volume == 0 {
			volume[i] = 1
		} else {
			volume[i] = c.Volume
		}
	}

	lkbkType := p.LookbackMAType
	if lkbkType == "Simple" {
		lkbkType = SMA
	}

	// Нормализация объема относительно его среднего за lookback
	volAvg := Average(volume, p.Lookback, lkbkType)
	volNorm := make([]float64, n)
	for i := range volNorm {
		volNorm[i] = Normalize(volume[i], volAvg[i]) * 100
	}

	// Шесть ценовых подсигналов, каждый в масштабе около [-100, 100]
	barSpread := make([]float64, n)
	barRange := make([]float64, n)
	r2 := nanSlice(n)
	srcShift := nanSlice(n)
	for i := 0; i < n; i++ {
		barSpread[i] = close[i] - open[i]
		barRange[i] = high[i] - low[i]
		if i > 0 {
			r2[i] = math.Max(high[i], high[i-1]) - math.Min(low[i], low[i-1])
			srcShift[i] = close[i] - close[i-1]
		}
	}

	spreadAbs := absSlice(barSpread)
	spreadAvg := Average(spreadAbs, p.Lookback, lkbkType)
	shiftAbs := absSlice(srcShift)
	shiftAvg := Average(shiftAbs, p.Lookback, lkbkType)

	barFlow := nanSlice(n)
	for i := 0; i < n; i++ {
		barClosing := 2*(close[i]-low[i])/barRange[i]*100 - 100
		spreadToRange := barSpread[i] / barRange[i] * 100
		spreadRatio := Normalize(spreadAbs[i], spreadAvg[i]) * 100 * sign(barSpread[i])

		low2 := low[i]
		if i > 0 {
			low2 = math.Min(low[i], low[i-1])
		}
		barClosing2 := 2*(close[i]-low2)/r2[i]*100 - 100
		shiftToRange2 := srcShift[i] / r2[i] * 100
		shiftRatio := Normalize(shiftAbs[i], shiftAvg[i]) * 100 * sign(srcShift[i])

		priceAction := (barClosing + spreadToRange + spreadRatio +
			barClosing2 + shiftToRange2 + shiftRatio) / 6
		barFlow[i] = priceAction * volNorm[i] / 100
	}

	// Разделение потока на бычью и медвежью составляющие
	bulls := make([]float64, n)
	bears := make([]float64, n)
	for i, f := range barFlow {
		bulls[i] = math.Max(f, 0)
		bears[i] = math.Max(-f, 0)
	}

	bullsAvg := Average(bulls, p.Length, p.MAType)
	bearsAvg := Average(bears, p.Length, p.MAType)

	rrof := make([]float64, n)
	for i := 0; i < n; i++ {
		// bears==0 при bulls>0 дает dx=+Inf и RROF=100; 0/0 остается NaN
		dx := bullsAvg[i] / bearsAvg[i]
		rrof[i] = 2*(100-100/(1+dx)) - 100
	}

	// Сглаживание всегда WMA, сигнальная линия — заданным типом
	rrofS := Average(rrof, p.Smooth, WMA)
	sig := Average(rrofS, p.SigLength, p.MAType)

	for i := 0; i < n; i++ {
		rows[i] = models.IndicatorRow{
			RROF:   rrof[i],
			RROFs:  rrofS[i],
			Signal: sig[i],
		}
	}
	return rows
}

// Average рассчитывает скользящую среднюю заданного типа.
// Результат выровнен по входу; пока окно не заполнено конечными
// значениями, на выходе NaN.
func Average(series []float64, window int, typ MAType) []float64 {
	switch typ {
	case EMA:
		return ewm(series, window, 2.0/(float64(window)+1.0))
	case HMA:
		return hma(series, window)
	case RMA:
		return ewm(series, window, 1.0/float64(window))
	case SMA:
		return sma(series, window)
	default: // WMA
		return wma(series, window)
	}
}

// Normalize переводит отношение value/avg в ступенчатый коэффициент (0, 1].
// Коэффициент не убывает по отношению. NaN-отношение попадает в нижнюю
// ступень, знак и прогрев обрабатываются вызывающей стороной.
func Normalize(value, avg float64) float64 {
	ratio := value / avg
	switch {
	case ratio > 1.5:
		return 1.0
	case ratio > 1.2:
		return 0.9
	case ratio > 1.0:
		return 0.8
	case ratio > 0.8:
		return 0.7
	case ratio > 0.6:
		return 0.6
	case ratio > 0.4:
		return 0.5
	case ratio > 0.2:
		return 0.25
	default:
		return 0.1
	}
}

// sma арифметическое среднее по окну
func sma(series []float64, window int) []float64 {
	out := nanSlice(len(series))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(series); i++ {
		sum := 0.0
		defined := true
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(series[j]) {
				defined = false
				break
			}
			sum += series[j]
		}
		if defined {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// wma линейно взвешенное среднее, веса 1..window, свежее значение тяжелее
func wma(series []float64, window int) []float64 {
	out := nanSlice(len(series))
	if window <= 0 {
		return out
	}
	norm := float64(window*(window+1)) / 2
	for i := window - 1; i < len(series); i++ {
		sum := 0.0
		defined := true
		for j := 0; j < window; j++ {
			v := series[i-window+1+j]
			if math.IsNaN(v) {
				defined = false
				break
			}
			sum += v * float64(j+1)
		}
		if defined {
			out[i] = sum / norm
		}
	}
	return out
}

// ewm рекуррентное экспоненциальное среднее с заданным alpha.
// NaN-значения не участвуют в рекурсии, результат появляется после
// window конечных наблюдений.
func ewm(series []float64, window int, alpha float64) []float64 {
	out := nanSlice(len(series))
	if window <= 0 {
		return out
	}
	var value float64
	seen := 0
	for i, v := range series {
		if math.IsNaN(v) {
			continue
		}
		if seen == 0 {
			value = v
		} else {
			value = alpha*v + (1-alpha)*value
		}
		seen++
		if seen >= window {
			out[i] = value
		}
	}
	return out
}

// hma среднее Халла: среднее (2*среднее за полуокно - среднее за окно),
// повторно усредненное за floor(sqrt(window))
func hma(series []float64, window int) []float64 {
	half := sma(series, window/2)
	full := sma(series, window)
	diff := make([]float64, len(series))
	for i := range diff {
		diff[i] = 2*half[i] - full[i]
	}
	return sma(diff, int(math.Sqrt(float64(window))))
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func absSlice(series []float64) []float64 {
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = math.Abs(v)
	}
	return out
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	case math.IsNaN(v):
		return math.NaN()
	default:
		return 0
	}
}
