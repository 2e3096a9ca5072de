package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tradewind/internal/market"
)

// Source 从本地 CSV 目录读 K 线，回放与测试的确定性数据源。
// 文件名约定 <SYMBOL>_<interval>.csv，首行为列头：
// open_time,open,high,low,close,volume,close_time。
type Source struct {
	dir string
}

// New 构造文件行情源，目录必须存在。
func New(dir string) (*Source, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("feed 目录不能为空")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("feed 目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("feed 路径不是目录: %s", dir)
	}
	return &Source{dir: dir}, nil
}

func (s *Source) Name() string { return "file" }

// Fetch 读取 symbol 的 CSV 并截取 period 覆盖的最后 N 根，按时间升序返回。
func (s *Source) Fetch(ctx context.Context, symbol, interval, period string) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	interval = strings.ToLower(strings.TrimSpace(interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol 与 interval 不能为空")
	}
	bars, err := market.BarsFor(period, interval)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", symbol, interval))
	candles, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	market.SortCandles(candles)
	if err := market.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(candles) > bars {
		candles = candles[len(candles)-bars:]
	}
	return candles, nil
}

// ReadFile 解析单个 K 线 CSV 文件。空行跳过，列头行按首列是否为数字识别。
func ReadFile(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("读取K线文件失败: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", filepath.Base(path), err)
	}

	out := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if _, convErr := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64); convErr != nil {
			if i == 0 {
				continue // 列头
			}
			return nil, fmt.Errorf("%s 第 %d 行 open_time 不合法: %q", filepath.Base(path), i+1, row[0])
		}
		if len(row) < 7 {
			return nil, fmt.Errorf("%s 第 %d 行列数不足: %d", filepath.Base(path), i+1, len(row))
		}
		c, convErr := parseRow(row)
		if convErr != nil {
			return nil, fmt.Errorf("%s 第 %d 行: %w", filepath.Base(path), i+1, convErr)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseRow(row []string) (market.Candle, error) {
	openTime, err := parseInt(row[0], "open_time")
	if err != nil {
		return market.Candle{}, err
	}
	closeTime, err := parseInt(row[6], "close_time")
	if err != nil {
		return market.Candle{}, err
	}
	vals := make([]float64, 5)
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("%s 不合法: %q", name, row[i+1])
		}
		vals[i] = v
	}
	return market.Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func parseInt(raw, name string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s 不合法: %q", name, raw)
	}
	return v, nil
}
