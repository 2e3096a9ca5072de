package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
	"github.com/tidwall/gjson"

	"tradewind/internal/config"
	"tradewind/internal/journal"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEma           = "#fbbf24"
	colorSma           = "#3b82f6"
	colorBuyMark       = "#22d3ee"
	colorSellMark      = "#fb7185"

	chartWidthPx  = 1600
	klineHeightPx = 600
	pnlHeightPx   = 360
)

// Builder 按 run_id 生成运行报告：每个 symbol 一幅 K 线图（EMA/SMA 叠加
// 与成交标记），外加整场 PnL 汇总图。
type Builder struct {
	cfg     config.ReportConfig
	modes   config.ModesConfig
	st      store.Store
	jr      *journal.JournalStore
	source  market.CandleSource
	renderFn func(ctx context.Context, html []byte, width, height int) ([]byte, error)
}

// Result 报告产物的落盘位置。
type Result struct {
	RunID    string `json:"run_id"`
	HTMLPath string `json:"html_path"`
	PNGPath  string `json:"png_path,omitempty"`
}

// NewBuilder 构建报告生成器。
func NewBuilder(cfg config.ReportConfig, modes config.ModesConfig, st store.Store,
	jr *journal.JournalStore, source market.CandleSource) *Builder {
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = "reports"
	}
	return &Builder{
		cfg:      cfg,
		modes:    modes,
		st:       st,
		jr:       jr,
		source:   source,
		renderFn: renderHTMLToPNG,
	}
}

// HTMLPath 返回 run 报告的约定路径，文件可能尚未生成。
func (b *Builder) HTMLPath(runID string) string {
	return filepath.Join(b.cfg.Dir, fmt.Sprintf("run_%s.html", sanitizeRunID(runID)))
}

// BuildRun 为指定 run 生成报告并写入 reports 目录。
// render_png 打开时额外输出 PNG 截图。
func (b *Builder) BuildRun(ctx context.Context, runID string) (Result, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Result{}, fmt.Errorf("run_id 不能为空")
	}
	rec, ok, err := b.jr.GetRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("运行不存在: %s", runID)
	}
	modeCfg, ok := b.modes.ModeByName(rec.Mode)
	if !ok {
		return Result{}, fmt.Errorf("未知模式 %q", rec.Mode)
	}

	plans, txns, err := b.loadRows(ctx, runID)
	if err != nil {
		return Result{}, err
	}

	symbols := symbolsOf(plans, txns)
	html, err := b.buildHTML(ctx, rec, modeCfg, symbols, plans, txns)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return Result{}, err
	}
	res := Result{RunID: runID, HTMLPath: b.HTMLPath(runID)}
	if err := os.WriteFile(res.HTMLPath, html, 0o644); err != nil {
		return Result{}, err
	}
	logger.Infof("report: 写入 %s symbols=%d txns=%d", res.HTMLPath, len(symbols), len(txns))

	if b.cfg.RenderPNG {
		height := len(symbols)*klineHeightPx + pnlHeightPx
		if height < 520 {
			height = 520
		}
		png, err := b.renderFn(ctx, html, chartWidthPx, height)
		if err != nil {
			// 截图失败不影响 HTML 报告
			logger.Warnf("report: PNG 渲染失败 run=%s err=%v", runID, err)
			return res, nil
		}
		pngPath := strings.TrimSuffix(res.HTMLPath, ".html") + ".png"
		if err := os.WriteFile(pngPath, png, 0o644); err != nil {
			return res, err
		}
		res.PNGPath = pngPath
	}
	return res, nil
}

func (b *Builder) loadRows(ctx context.Context, runID string) ([]model.TradePlan, []model.Transaction, error) {
	uow, err := b.st.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = uow.Rollback() }()
	plans, err := uow.Plans().List(ctx, store.PlanQuery{RunID: runID, Limit: 500})
	if err != nil {
		return nil, nil, err
	}
	txns, err := uow.Transactions().List(ctx, store.TxnQuery{RunID: runID, Limit: 500})
	if err != nil {
		return nil, nil, err
	}
	return plans, txns, nil
}

func (b *Builder) buildHTML(ctx context.Context, rec journal.RunRecord, modeCfg config.ModeConfig,
	symbols []string, plans []model.TradePlan, txns []model.Transaction) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("tradewind run %s", rec.RunID)

	for _, sym := range symbols {
		candles, err := b.source.Fetch(ctx, sym, modeCfg.Interval, modeCfg.Period)
		if err != nil {
			logger.Warnf("report: 拉取 %s K 线失败，跳过图表: %v", sym, err)
			continue
		}
		if len(candles) == 0 {
			continue
		}
		chart := buildSymbolChart(sym, rec, candles, plansFor(plans, sym), txnsFor(txns, sym))
		page.AddCharts(chart)
	}
	page.AddCharts(buildPnLChart(rec, plans, txns))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildSymbolChart 画单个 symbol 的 K 线，叠加 EMA20/SMA20 与成交标记。
func buildSymbolChart(symbol string, rec journal.RunRecord, candles []market.Candle,
	plans []model.TradePlan, txns []model.Transaction) *charts.Kline {
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}
	subtitle := fmt.Sprintf("run %s | %s", rec.RunID, rec.Date)
	if rules := exitRuleSummary(plans); rules != "" {
		subtitle += " | " + rules
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(symbol), rec.Mode),
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := buildXAxis(candles)
	data := make([]opts.KlineData, 0, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
		closes[i] = c.Close
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	if len(closes) >= 21 {
		line.AddSeries("EMA20", toLineData(talib.Ema(closes, 20), len(candles)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEma, Width: 2}))
		line.AddSeries("SMA20", toLineData(talib.Sma(closes, 20), len(candles)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorSma, Width: 2}))
	}
	kline.Overlap(line)

	if markers := buildTradeMarkers(candles, txns); markers != nil {
		markers.SetXAxis(xAxis)
		kline.Overlap(markers)
	}
	return kline
}

// buildTradeMarkers 把成交回报锚到所属 K 线上：BUY 朝上、SELL 朝下。
func buildTradeMarkers(candles []market.Candle, txns []model.Transaction) *charts.Scatter {
	if len(txns) == 0 {
		return nil
	}
	buys := make([]opts.ScatterData, len(candles))
	sells := make([]opts.ScatterData, len(candles))
	found := false
	for _, txn := range txns {
		idx := candleIndexAt(candles, txn.TS)
		if idx < 0 {
			continue
		}
		found = true
		point := opts.ScatterData{
			Name:         fmt.Sprintf("%s %s x%d @%.4f", txn.Side, txn.OrderType, txn.Qty, txn.Price),
			Value:        round(txn.Price, 4),
			Symbol:       "triangle",
			SymbolSize:   14,
			SymbolRotate: 0,
		}
		if txn.Side == model.SideSell {
			point.SymbolRotate = 180
			sells[idx] = point
			continue
		}
		buys[idx] = point
	}
	if !found {
		return nil
	}
	scatter := charts.NewScatter()
	scatter.AddSeries("BUY", buys, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBuyMark}))
	scatter.AddSeries("SELL", sells, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSellMark}))
	return scatter
}

// buildPnLChart 按 symbol 汇总已实现盈亏。
func buildPnLChart(rec journal.RunRecord, plans []model.TradePlan, txns []model.Transaction) *charts.Bar {
	pnl := map[string]float64{}
	total := 0.0
	for _, txn := range txns {
		if txn.PnL == nil {
			continue
		}
		pnl[txn.Symbol] += *txn.PnL
		total += *txn.PnL
	}
	symbols := make([]string, 0, len(pnl))
	for sym := range pnl {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	closed := 0
	for _, plan := range plans {
		if plan.Status == model.PlanStatusClosed {
			closed++
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", pnlHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "Realized PnL",
			Subtitle:      fmt.Sprintf("total=%.2f closed_plans=%d txns=%d | run %s", total, closed, len(txns), rec.RunID),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	bars := make([]opts.BarData, len(symbols))
	for i, sym := range symbols {
		color := colorBull
		if pnl[sym] < 0 {
			color = colorBear
		}
		bars[i] = opts.BarData{
			Value:     round(pnl[sym], 2),
			ItemStyle: &opts.ItemStyle{Color: color},
		}
	}
	bar.SetXAxis(symbols)
	bar.AddSeries("PnL", bars)
	return bar
}

func symbolsOf(plans []model.TradePlan, txns []model.Transaction) []string {
	seen := map[string]struct{}{}
	for _, plan := range plans {
		seen[plan.Symbol] = struct{}{}
	}
	for _, txn := range txns {
		seen[txn.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

func plansFor(plans []model.TradePlan, symbol string) []model.TradePlan {
	out := make([]model.TradePlan, 0, 2)
	for _, plan := range plans {
		if plan.Symbol == symbol {
			out = append(out, plan)
		}
	}
	return out
}

// exitRuleSummary 从计划的 exit_rules_json 提取止损/止盈等规则做副标题。
// 同一 symbol 多个计划时取最后一个（退出规则随推进被覆写）。
func exitRuleSummary(plans []model.TradePlan) string {
	for i := len(plans) - 1; i >= 0; i-- {
		raw := plans[i].ExitRulesJSON
		if len(raw) == 0 || !gjson.ValidBytes(raw) {
			continue
		}
		parts := make([]string, 0, 3)
		if v := gjson.GetBytes(raw, "trailing_stop"); v.Exists() {
			parts = append(parts, fmt.Sprintf("stop=%.4f", v.Float()))
		}
		if v := gjson.GetBytes(raw, "take_profit"); v.Exists() {
			parts = append(parts, fmt.Sprintf("tp=%.4f", v.Float()))
		}
		if v := gjson.GetBytes(raw, "time_exit"); v.Exists() {
			parts = append(parts, "time_exit="+v.String())
		}
		if v := gjson.GetBytes(raw, "horizon_days"); v.Exists() {
			parts = append(parts, fmt.Sprintf("horizon=%dd", v.Int()))
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return ""
}

func txnsFor(txns []model.Transaction, symbol string) []model.Transaction {
	out := make([]model.Transaction, 0, 4)
	for _, txn := range txns {
		if txn.Symbol == symbol {
			out = append(out, txn)
		}
	}
	return out
}

// candleIndexAt 返回 ts 落在哪根 K 线上（按 close_time 向上取）。
func candleIndexAt(candles []market.Candle, ts int64) int {
	for i, c := range candles {
		if ts <= c.CloseTime {
			return i
		}
	}
	if len(candles) > 0 {
		return len(candles) - 1
	}
	return -1
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.CloseTime).UTC().Format("01-02 15:04")
	}
	return x
}

func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) || val == 0 {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 4)}
		}
	}
	return line
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func sanitizeRunID(runID string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(runID) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测 headless Chrome 是否可用，进程内只探测一次。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, err
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
