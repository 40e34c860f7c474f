package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/skalibog/everex/internal/config"
)

const (
	notionPagesURL = "https://api.notion.com/v1/pages"
	notionVersion  = "2022-06-28"
)

// NotionChannel добавляет строку с результатом цикла в базу Notion
type NotionChannel struct {
	cfg    config.NotionConfig
	client *http.Client
}

// NewNotionChannel создает Notion-канал уведомлений
func NewNotionChannel(cfg config.NotionConfig) *NotionChannel {
	return &NotionChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *NotionChannel) Name() string { return "notion" }

// Send создает страницу в базе со свойствами события: название, дата,
// цена, количество и значения осциллятора
func (c *NotionChannel) Send(ctx context.Context, event Event) error {
	payload := map[string]interface{}{
		"parent": map[string]string{"database_id": c.cfg.DatabaseID},
		"properties": map[string]interface{}{
			"Name": map[string]interface{}{
				"title": []map[string]interface{}{
					{"text": map[string]string{"content": "Результат анализа"}},
				},
			},
			"Date": map[string]interface{}{
				"date": map[string]string{"start": time.Now().Format(time.RFC3339)},
			},
			"Event": map[string]interface{}{
				"select": map[string]string{"name": event.Kind},
			},
			"Price":    map[string]float64{"number": finite(event.Price)},
			"Quantity": map[string]float64{"number": finite(event.Quantity)},
			"RROF_s":   map[string]float64{"number": finite(event.RROFs)},
			"Signal":   map[string]float64{"number": finite(event.Signal)},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notionPagesURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", notionVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса к Notion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("Notion вернул статус %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// finite заменяет NaN и Inf нулем: JSON их не представляет
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
