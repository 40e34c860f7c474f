package signal

import "github.com/skalibog/everex/pkg/models"

// Evaluate вычисляет торговые флаги по значениям осциллятора одной свечи.
// Флаги не взаимоисключающие — приоритет ветвей определяет оркестратор.
// Если RROF_s или Signal не определены (NaN), все сравнения ложны и
// флаги остаются снятыми.
func Evaluate(row models.IndicatorRow) models.Flags {
	return models.Flags{
		LongEntry:  row.RROFs > row.Signal && row.RROFs < -50,
		LongExit:   row.RROFs > 0 || row.RROFs < row.Signal,
		ShortEntry: row.RROFs < row.Signal && row.Signal > 50,
		ShortExit:  row.RROFs < 0 || row.RROFs > row.Signal,
	}
}

// Annotate проставляет флаги всем строкам индикатора
func Annotate(rows []models.IndicatorRow) {
	for i := range rows {
		rows[i].Flags = Evaluate(rows[i])
	}
}
