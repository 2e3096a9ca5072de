package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// RunStatus 是一次引擎运行的生命周期状态。周末不开盘的运行直接记 SKIPPED。
const (
	RunStatusStarted   = "STARTED"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
	RunStatusSkipped   = "SKIPPED"
)

// JournalStore 管理 trading_runs 运行账本，并提供决策日志的富查询读路径。
// 写路径（decision_logs 行）由领域存储在事务内完成，这里只读。
type JournalStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// RunRecord 是一次运行的账本行。
type RunRecord struct {
	ID         int64    `json:"id"`
	RunID      string   `json:"run_id"`
	Date       string   `json:"date"`
	Mode       string   `json:"mode"`
	Status     string   `json:"status"`
	Symbols    []string `json:"symbols,omitempty"`
	StartedAt  int64    `json:"started_at"`
	FinishedAt int64    `json:"finished_at,omitempty"`
	StatsJSON  string   `json:"stats,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// RunQuery 过滤运行账本。
type RunQuery struct {
	Date   string
	Mode   string
	Status string
	Symbol string
	Limit  int
	Offset int
}

// DecisionQuery 过滤决策日志读取。
type DecisionQuery struct {
	RunID  string
	Date   string
	Mode   string
	Symbol string
	Stage  string
	Limit  int
	Offset int
}

// DecisionRecord 是决策日志的读模型。
type DecisionRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	TraceID    string  `json:"trace_id"`
	Date       string  `json:"date"`
	Mode       string  `json:"mode"`
	Symbol     string  `json:"symbol"`
	Stage      string  `json:"stage"`
	Action     string  `json:"action"`
	Rule       string  `json:"rule"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	Features   string  `json:"features,omitempty"`
	PlanID     *int64  `json:"plan_id,omitempty"`
	TS         int64   `json:"ts"`
}

// RunTrace 把一个 symbol 在一次运行里的决策串成一条线，供前端与报表展示。
type RunTrace struct {
	TraceID   string           `json:"trace_id"`
	RunID     string           `json:"run_id"`
	Date      string           `json:"date"`
	Mode      string           `json:"mode"`
	Symbol    string           `json:"symbol"`
	Timestamp int64            `json:"ts"`
	Steps     []DecisionRecord `json:"steps"`
}

// NewJournalStore 初始化 SQLite 账本。
func NewJournalStore(path string) (*JournalStore, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureJournalSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &JournalStore{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB 复用外部（例如 GORM）初始化的 SQLite 连接，避免多连接锁冲突。
func (s *JournalStore) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("journal store 未初始化")
	}
	if db == nil {
		return fmt.Errorf("external db 不能为空")
	}
	if err := ensureJournalSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

// Close 关闭底层 DB；外部连接只解引用不关闭。
func (s *JournalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *JournalStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal store 未初始化")
	}
	return db, nil
}

func ensureJournalSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trading_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			date TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			symbols TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			stats_json TEXT,
			error TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		// decision_logs 由领域存储迁移管理；独立打开账本文件时兜底建表，
		// 列名与领域模型保持一致。
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			trace_id TEXT,
			date TEXT,
			mode TEXT,
			symbol TEXT,
			stage TEXT,
			action TEXT,
			rule TEXT,
			confidence REAL,
			rationale TEXT,
			features_json TEXT,
			plan_id INTEGER,
			ts INTEGER,
			created_at INTEGER
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_trading_runs_date_mode ON trading_runs(date, mode);`,
		`CREATE INDEX IF NOT EXISTS idx_trading_runs_status ON trading_runs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_run ON decision_logs(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_trace ON decision_logs(trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return ensureJournalColumns(db)
}

func ensureJournalColumns(db *sql.DB) error {
	cols := []struct {
		table  string
		column string
		typ    string
	}{
		{"trading_runs", "stats_json", "TEXT"},
		{"trading_runs", "error", "TEXT"},
		{"decision_logs", "plan_id", "INTEGER"},
	}
	for _, col := range cols {
		if err := addColumnIfMissing(db, col.table, col.column, col.typ); err != nil {
			return err
		}
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, typ string) error {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	exists := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			exists = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if exists {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ)
	_, err = db.Exec(stmt)
	return err
}

// StartRun 登记一次运行。同一 run_id 重放时覆盖起始状态而不是报错。
func (s *JournalStore) StartRun(ctx context.Context, rec RunRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if strings.TrimSpace(rec.RunID) == "" {
		return fmt.Errorf("run_id 不能为空")
	}
	status := rec.Status
	if status == "" {
		status = RunStatusStarted
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO trading_runs (run_id, date, mode, status, symbols, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			date=excluded.date,
			mode=excluded.mode,
			status=excluded.status,
			symbols=excluded.symbols,
			started_at=excluded.started_at,
			finished_at=NULL,
			stats_json=NULL,
			error=NULL`,
		rec.RunID,
		rec.Date,
		strings.ToUpper(strings.TrimSpace(rec.Mode)),
		status,
		encodeSymbolBlob(rec.Symbols),
		rec.StartedAt,
		rec.StartedAt,
	)
	return err
}

// FinishRun 收尾一次运行，写入统计与错误信息。
func (s *JournalStore) FinishRun(ctx context.Context, runID, status string, finishedAt int64, statsJSON, errMsg string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE trading_runs
		SET status = ?, finished_at = ?, stats_json = ?, error = ?
		WHERE run_id = ?`,
		status, finishedAt, statsJSON, errMsg, runID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("run %s 不存在", runID)
	}
	return nil
}

// GetRun 读取单次运行。
func (s *JournalStore) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	db, err := s.conn()
	if err != nil {
		return RunRecord{}, false, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT id, run_id, date, mode, status, symbols, started_at,
		       COALESCE(finished_at, 0), COALESCE(stats_json, ''), COALESCE(error, '')
		FROM trading_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// ListRuns 按时间倒序列出运行账本。
func (s *JournalStore) ListRuns(ctx context.Context, q RunQuery) ([]RunRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var args []interface{}
	var sb strings.Builder
	sb.WriteString(`SELECT id, run_id, date, mode, status, symbols, started_at,
		COALESCE(finished_at, 0), COALESCE(stats_json, ''), COALESCE(error, '')
		FROM trading_runs WHERE 1=1`)
	if q.Date != "" {
		sb.WriteString(" AND date=?")
		args = append(args, q.Date)
	}
	if q.Mode != "" {
		sb.WriteString(" AND mode=?")
		args = append(args, strings.ToUpper(strings.TrimSpace(q.Mode)))
	}
	if q.Status != "" {
		sb.WriteString(" AND status=?")
		args = append(args, q.Status)
	}
	if strings.TrimSpace(q.Symbol) != "" {
		sb.WriteString(" AND symbols LIKE ?")
		args = append(args, symbolLikePattern(q.Symbol))
	}
	sb.WriteString(" ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var symbols sql.NullString
	if err := row.Scan(&rec.ID, &rec.RunID, &rec.Date, &rec.Mode, &rec.Status,
		&symbols, &rec.StartedAt, &rec.FinishedAt, &rec.StatsJSON, &rec.Error); err != nil {
		return RunRecord{}, err
	}
	rec.Symbols = decodeSymbolBlob(symbols.String)
	return rec, nil
}

// ListDecisions 按过滤条件读取决策日志，时间倒序。
func (s *JournalStore) ListDecisions(ctx context.Context, q DecisionQuery) ([]DecisionRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var args []interface{}
	var sb strings.Builder
	sb.WriteString(`SELECT id, COALESCE(run_id,''), COALESCE(trace_id,''), COALESCE(date,''),
		COALESCE(mode,''), COALESCE(symbol,''), COALESCE(stage,''), COALESCE(action,''),
		COALESCE(rule,''), COALESCE(confidence,0), COALESCE(rationale,''),
		COALESCE(features_json,''), plan_id, COALESCE(ts,0)
		FROM decision_logs WHERE 1=1`)
	if q.RunID != "" {
		sb.WriteString(" AND run_id=?")
		args = append(args, q.RunID)
	}
	if q.Date != "" {
		sb.WriteString(" AND date=?")
		args = append(args, q.Date)
	}
	if q.Mode != "" {
		sb.WriteString(" AND mode=?")
		args = append(args, strings.ToUpper(strings.TrimSpace(q.Mode)))
	}
	if q.Symbol != "" {
		sb.WriteString(" AND symbol=?")
		args = append(args, strings.ToUpper(strings.TrimSpace(q.Symbol)))
	}
	if q.Stage != "" {
		sb.WriteString(" AND stage=?")
		args = append(args, q.Stage)
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var planID sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.TraceID, &rec.Date, &rec.Mode,
			&rec.Symbol, &rec.Stage, &rec.Action, &rec.Rule, &rec.Confidence,
			&rec.Rationale, &rec.Features, &planID, &rec.TS); err != nil {
			return nil, err
		}
		if planID.Valid {
			v := planID.Int64
			rec.PlanID = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// BuildRunTraces 把平铺的决策日志按 trace_id 分组为决策线，组内按时间排序。
func BuildRunTraces(records []DecisionRecord) []RunTrace {
	if len(records) == 0 {
		return nil
	}
	type builder struct {
		trace RunTrace
		keys  []int64
	}
	groups := make(map[string]*builder)
	var order []string
	for idx, rec := range records {
		key := strings.TrimSpace(rec.TraceID)
		if key == "" {
			key = fmt.Sprintf("legacy-%s-%s-%d", rec.RunID, rec.Symbol, idx)
		}
		b := groups[key]
		if b == nil {
			b = &builder{trace: RunTrace{
				TraceID:   key,
				RunID:     rec.RunID,
				Date:      rec.Date,
				Mode:      rec.Mode,
				Symbol:    rec.Symbol,
				Timestamp: rec.TS,
			}}
			groups[key] = b
			order = append(order, key)
		} else if rec.TS > b.trace.Timestamp {
			b.trace.Timestamp = rec.TS
		}
		b.trace.Steps = append(b.trace.Steps, rec)
		b.keys = append(b.keys, orderKey(rec))
	}
	out := make([]RunTrace, 0, len(groups))
	for _, key := range order {
		b := groups[key]
		sort.SliceStable(b.trace.Steps, func(i, j int) bool {
			return orderKey(b.trace.Steps[i]) < orderKey(b.trace.Steps[j])
		})
		out = append(out, b.trace)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// orderKey 用 (ts, id) 合成排序键，保证同一毫秒内按插入顺序稳定。
func orderKey(rec DecisionRecord) int64 {
	return (rec.TS << 20) + rec.ID
}

func encodeSymbolBlob(symbols []string) string {
	if len(symbols) == 0 {
		return ""
	}
	uniq := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		uniq = append(uniq, sym)
	}
	if len(uniq) == 0 {
		return ""
	}
	return "|" + strings.Join(uniq, "|") + "|"
}

func decodeSymbolBlob(blob string) []string {
	blob = strings.Trim(strings.TrimSpace(blob), "|")
	if blob == "" {
		return nil
	}
	parts := strings.Split(blob, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func symbolLikePattern(sym string) string {
	return "%|" + strings.ToUpper(strings.TrimSpace(sym)) + "|%"
}
