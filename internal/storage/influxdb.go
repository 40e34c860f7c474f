package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/everex/internal/config"
	"github.com/skalibog/everex/pkg/models"
)

// Storage интерфейс хранилища телеметрии торговых циклов
type Storage interface {
	SaveCycle(ctx context.Context, snap *models.CycleSnapshot) error
	GetCycleHistory(ctx context.Context, symbol string, limit int) ([]*models.CycleSnapshot, error)
	Close()
}

// NewStorage создает хранилище по конфигурации; неуказанный тип
// отключает телеметрию
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "influxdb":
		return NewInfluxDBStorage(cfg)
	case "", "none":
		return NoopStorage{}, nil
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %q", cfg.Type)
	}
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.client.Close()
}

// SaveCycle сохраняет снимок решения торгового цикла
func (s *InfluxDBStorage) SaveCycle(ctx context.Context, snap *models.CycleSnapshot) error {
	point := influxdb2.NewPoint(
		"cycles",
		map[string]string{
			"symbol":  snap.Symbol,
			"outcome": snap.Outcome,
		},
		map[string]interface{}{
			"event":    snap.Event,
			"price":    snap.Price,
			"quantity": snap.Quantity,
			"rrof_s":   snap.RROFs,
			"signal":   snap.Signal,
		},
		snap.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// GetCycleHistory получает историю решений по символу
func (s *InfluxDBStorage) GetCycleHistory(ctx context.Context, symbol string, limit int) ([]*models.CycleSnapshot, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "cycles")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории циклов: %w", err)
	}

	var snapshots []*models.CycleSnapshot
	for result.Next() {
		record := result.Record()

		outcome, _ := record.ValueByKey("outcome").(string)
		event, _ := record.ValueByKey("event").(string)
		price, _ := record.ValueByKey("price").(float64)
		quantity, _ := record.ValueByKey("quantity").(float64)
		rrofS, _ := record.ValueByKey("rrof_s").(float64)
		sig, _ := record.ValueByKey("signal").(float64)

		snapshots = append(snapshots, &models.CycleSnapshot{
			Symbol:    symbol,
			Timestamp: record.Time(),
			Outcome:   outcome,
			Event:     event,
			Price:     price,
			Quantity:  quantity,
			RROFs:     rrofS,
			Signal:    sig,
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return snapshots, nil
}

// NoopStorage хранилище-заглушка при отключенной телеметрии
type NoopStorage struct{}

func (NoopStorage) SaveCycle(ctx context.Context, snap *models.CycleSnapshot) error { return nil }

func (NoopStorage) GetCycleHistory(ctx context.Context, symbol string, limit int) ([]*models.CycleSnapshot, error) {
	return nil, nil
}

func (NoopStorage) Close() {}
