package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/skalibog/everex/pkg/models"
)

// ByNotional рассчитывает допустимое биржей количество для заданной суммы
// в котируемой валюте. Количество округляется вниз до шага лота; если
// результат меньше минимального лота, возвращается ok=false и ордер
// размещать нельзя. Арифметика точная, без двоичного дрейфа.
func ByNotional(notional, price float64, lot models.LotConstraint) (decimal.Decimal, bool) {
	if price <= 0 || lot.StepSize.Sign() <= 0 {
		return decimal.Zero, false
	}
	raw := decimal.NewFromFloat(notional).Div(decimal.NewFromFloat(price))
	qty := Quantize(raw, lot.StepSize)
	if qty.LessThan(lot.MinQty) {
		return decimal.Zero, false
	}
	return qty, true
}

// FullBalance округляет весь удерживаемый баланс вниз до шага лота.
// Используется при полном закрытии позиции вместо расчета от суммы.
func FullBalance(balance float64, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return decimal.Zero
	}
	return Quantize(decimal.NewFromFloat(balance), step)
}

// Quantize возвращает наибольшее кратное шага, не превышающее qty
func Quantize(qty, step decimal.Decimal) decimal.Decimal {
	return qty.Div(step).Floor().Mul(step)
}
