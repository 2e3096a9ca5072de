package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CandleSource 拉取一段历史 K 线。period 形如 "5d"/"6mo"/"1y"，
// interval 形如 "5m"/"1h"/"1d"。返回的序列按时间升序。
type CandleSource interface {
	Fetch(ctx context.Context, symbol, interval, period string) ([]Candle, error)
	Name() string
}

// ParseInterval 将 K 线周期解析为时长。
func ParseInterval(interval string) (time.Duration, error) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, fmt.Errorf("interval 不合法: %q", interval)
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("interval 不合法: %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("interval 单位不支持: %q", interval)
	}
}

// ParsePeriod 将回看区间解析为时长，支持 d/w/mo/y 后缀。
func ParsePeriod(period string) (time.Duration, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		return 0, fmt.Errorf("period 不能为空")
	}
	var numPart, unit string
	switch {
	case strings.HasSuffix(period, "mo"):
		numPart, unit = period[:len(period)-2], "mo"
	default:
		numPart, unit = period[:len(period)-1], period[len(period)-1:]
	}
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("period 不合法: %q", period)
	}
	day := 24 * time.Hour
	switch unit {
	case "d":
		return time.Duration(n) * day, nil
	case "w":
		return time.Duration(n) * 7 * day, nil
	case "mo":
		return time.Duration(n) * 30 * day, nil
	case "y":
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("period 单位不支持: %q", period)
	}
}

// BarsFor 估算 period/interval 覆盖的 K 线数量，至少 1，至多 1000。
func BarsFor(period, interval string) (int, error) {
	p, err := ParsePeriod(period)
	if err != nil {
		return 0, err
	}
	iv, err := ParseInterval(interval)
	if err != nil {
		return 0, err
	}
	bars := int(p / iv)
	if bars < 1 {
		bars = 1
	}
	if bars > 1000 {
		bars = 1000
	}
	return bars, nil
}
