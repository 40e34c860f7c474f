package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/skalibog/everex/internal/config"
	"github.com/skalibog/everex/pkg/models"
)

// Exchange интерфейс биржевых операций, необходимых торговому циклу.
// Оркестратор получает реализацию при конструировании — глобального
// клиента в процессе нет.
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetLotConstraint(ctx context.Context, symbol string) (models.LotConstraint, error)
	GetMarginBalances(ctx context.Context) (map[string]models.AssetBalance, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty decimal.Decimal) (*models.OrderResult, error)
	Borrow(ctx context.Context, asset string, amount decimal.Decimal) error
	Repay(ctx context.Context, asset string, amount decimal.Decimal) error
}

// BinanceClient клиент маржинального счета Binance
type BinanceClient struct {
	client *binance.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)

	if cfg.Testnet {
		client.SetApiEndpoint("https://testnet.binance.vision")
	}

	return &BinanceClient{client: client}, nil
}

// GetPrice получает текущую цену символа
func (c *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.client.NewListPricesService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("цена для %s не найдена", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора цены %q: %w", prices[0].Price, err)
	}
	return price, nil
}

// GetLotConstraint получает ограничения лота (фильтр LOT_SIZE) символа
func (c *BinanceClient) GetLotConstraint(ctx context.Context, symbol string) (models.LotConstraint, error) {
	info, err := c.client.NewExchangeInfoService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return models.LotConstraint{}, fmt.Errorf("ошибка получения информации о символе: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f := s.LotSizeFilter()
		if f == nil {
			return models.LotConstraint{}, fmt.Errorf("фильтр LOT_SIZE для %s не найден", symbol)
		}
		minQty, err := decimal.NewFromString(f.MinQuantity)
		if err != nil {
			return models.LotConstraint{}, fmt.Errorf("ошибка разбора minQty %q: %w", f.MinQuantity, err)
		}
		stepSize, err := decimal.NewFromString(f.StepSize)
		if err != nil {
			return models.LotConstraint{}, fmt.Errorf("ошибка разбора stepSize %q: %w", f.StepSize, err)
		}
		return models.LotConstraint{MinQty: minQty, StepSize: stepSize}, nil
	}

	return models.LotConstraint{}, fmt.Errorf("символ %s не найден", symbol)
}

// GetMarginBalances получает балансы всех активов маржинального счета
func (c *BinanceClient) GetMarginBalances(ctx context.Context) (map[string]models.AssetBalance, error) {
	account, err := c.client.NewGetMarginAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения маржинального счета: %w", err)
	}

	balances := make(map[string]models.AssetBalance, len(account.UserAssets))
	for _, a := range account.UserAssets {
		free, _ := strconv.ParseFloat(a.Free, 64)
		borrowed, _ := strconv.ParseFloat(a.Borrowed, 64)
		interest, _ := strconv.ParseFloat(a.Interest, 64)
		balances[a.Asset] = models.AssetBalance{
			Free:     free,
			Borrowed: borrowed,
			Interest: interest,
		}
	}
	return balances, nil
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]*models.Candle, len(klines))
	for i, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles[i] = &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.Unix(k.OpenTime/1000, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.Unix(k.CloseTime/1000, 0),
		}
	}
	return candles, nil
}

// PlaceMarketOrder размещает рыночный ордер на маржинальном счете и
// возвращает средневзвешенную цену и исполненное количество по сделкам
func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty decimal.Decimal) (*models.OrderResult, error) {
	order, err := c.client.NewCreateMarginOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID("everex-" + uuid.NewString()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("биржа отклонила ордер: %w", err)
	}

	var totalQty, totalCost float64
	for _, f := range order.Fills {
		price, _ := strconv.ParseFloat(f.Price, 64)
		quantity, _ := strconv.ParseFloat(f.Quantity, 64)
		totalQty += quantity
		totalCost += price * quantity
	}

	result := &models.OrderResult{}
	if totalQty > 0 {
		result.AvgPrice = totalCost / totalQty
		result.Quantity = totalQty
	}
	return result, nil
}

// Borrow занимает актив на маржинальном счете
func (c *BinanceClient) Borrow(ctx context.Context, asset string, amount decimal.Decimal) error {
	_, err := c.client.NewMarginLoanService().
		Asset(asset).
		Amount(amount.String()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка займа %s: %w", asset, err)
	}
	return nil
}

// Repay погашает заем на маржинальном счете
func (c *BinanceClient) Repay(ctx context.Context, asset string, amount decimal.Decimal) error {
	_, err := c.client.NewMarginRepayService().
		Asset(asset).
		Amount(amount.String()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка погашения займа %s: %w", asset, err)
	}
	return nil
}
