package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"tradewind/internal/market"
	"tradewind/internal/pkg/circuit"
	"tradewind/internal/scheduler"
)

const maxKlineLimit = 1000

// Source 基于 go-binance 现货 SDK 实现 market.CandleSource。
// 只做历史 K 线拉取，最后一根未收盘的 K 线会被丢弃，
// 保证指标永远建立在已收盘数据上。
type Source struct {
	cfg     Config
	client  *gobinance.Client
	breaker *circuit.CircuitBreaker
}

// New 构造 Binance 行情源。
func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient(final.APIKey, final.APISecret)
	if final.BaseURL != "" {
		client.BaseURL = final.BaseURL
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{
		cfg:     final,
		client:  client,
		breaker: circuit.NewCircuitBreaker("binance-klines", 5, 30*time.Second),
	}, nil
}

func (s *Source) Name() string { return "binance" }

// Fetch 拉取 symbol 在 period 回看区间内的 interval K 线，按时间升序返回。
func (s *Source) Fetch(ctx context.Context, symbol, interval, period string) ([]market.Candle, error) {
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval 不能为空")
	}
	limit, err := market.BarsFor(period, interval)
	if err != nil {
		return nil, err
	}
	// 多拉一根：末尾未收盘的 K 线会被丢弃。
	limit++
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	if !s.breaker.Allow() {
		return nil, fmt.Errorf("binance 熔断中，跳过 %s %s", symbol, interval)
	}
	kls, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}
	s.breaker.RecordSuccess()

	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedBinanceKline(out, dur)
	}
	market.SortCandles(out)
	if err := market.ValidateSeries(out); err != nil {
		return nil, err
	}
	return out, nil
}

// cleanSymbol 去掉分隔符并统一大写，"eth/usdt" -> "ETHUSDT"。
func cleanSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "/", "")
	symbol = strings.ReplaceAll(symbol, "-", "")
	return symbol
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
