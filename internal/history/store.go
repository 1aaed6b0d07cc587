// Package history 持久化运行历史（SQLite）：每次运行的汇总、逐条评分结果与单条 HU 平均耗时。
// 结果表同时作为“上一版分析”的来源。
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// openDB 便于测试注入。
var openDB = sql.Open

// Run: runs 表一行。
type Run struct {
	ID         string
	StartedAt  time.Time
	InputBase  string
	OutputPath string
	Records    int
	Failed     int
	MeanTotal  float64
}

// Store: 运行历史存储。并发安全（由 database/sql 连接池保证）。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）path 处的数据库并执行迁移。
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history: %w: empty path", contract.ErrConfigInvalid)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

// Close 关闭数据库。
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			started_at  TEXT NOT NULL,
			input_base  TEXT NOT NULL,
			output_path TEXT NOT NULL,
			records     INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			mean_total  REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_base ON runs(input_base, started_at);

		CREATE TABLE IF NOT EXISTS results (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			initiative  TEXT NOT NULL,
			hu_id       TEXT NOT NULL,
			norm_id     TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			total       INTEGER NOT NULL,
			tier        TEXT NOT NULL,
			summary     TEXT NOT NULL,
			scores_json TEXT NOT NULL,
			gaps_json   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);

		CREATE TABLE IF NOT EXISTS hu_speed (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			avg_seconds REAL NOT NULL,
			count       INTEGER NOT NULL
		);
	`)
	return err
}

// BaseKey 由输入路径得到历史匹配键：去目录与扩展名并规范化。
func BaseKey(source string) string {
	b := filepath.Base(strings.ReplaceAll(source, "\\", "/"))
	b = strings.TrimSuffix(b, filepath.Ext(b))
	return strings.ToLower(contract.SanitizeBaseName(b))
}

// Record 在一个事务内写入运行汇总、成功结果，并以成功记录的耗时更新 HU 速度。
func (s *Store) Record(ctx context.Context, rep contract.Report, output string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runID := uuid.NewString()
	started := rep.GeneratedAt
	if started.IsZero() {
		started = s.now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, input_base, output_path, records, failed, mean_total) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, started.UTC().Format(time.RFC3339Nano), BaseKey(rep.Source), output,
		rep.Global.Count, rep.Global.Failed, rep.Global.Mean,
	); err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, initiative, hu_id, norm_id, title, description, total, tier, summary, scores_json, gaps_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare: %w", err)
	}
	defer stmt.Close()

	var speeds []float64
	for _, ir := range rep.Initiatives {
		for _, r := range ir.Results {
			if r.Failed() {
				continue
			}
			scores := make(map[string]float64, len(contract.Dimensions))
			gaps := make(map[string]string, len(contract.Dimensions))
			for _, d := range contract.Dimensions {
				scores[string(d)] = r.Assessment.Scores[d] / 10
				if g := r.Assessment.Gaps[d]; len(g) > 0 {
					gaps[string(d)] = strings.Join(g, " | ")
				}
			}
			sj, _ := json.Marshal(scores)
			gj, _ := json.Marshal(gaps)
			if _, err := stmt.ExecContext(ctx,
				runID, ir.Initiative.Name, r.Record.ID, NormalizeID(r.Record.ID),
				r.Record.Title, r.Record.Description,
				r.Total, r.Tier.Label(), r.Assessment.Summary, string(sj), string(gj),
			); err != nil {
				return fmt.Errorf("history: insert result %s: %w", r.Record.ID, err)
			}
			if r.Duration > 0 {
				speeds = append(speeds, r.Duration.Seconds())
			}
		}
	}
	for _, x := range speeds {
		if err := observe(ctx, tx, x); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// observe: avg' = (avg·n + x)/(n+1)。
func observe(ctx context.Context, q execQuerier, x float64) error {
	var avg float64
	var n int64
	err := q.QueryRowContext(ctx, `SELECT avg_seconds, count FROM hu_speed WHERE id = 1`).Scan(&avg, &n)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("history: read speed: %w", err)
	}
	next := (avg*float64(n) + x) / float64(n+1)
	if _, err := q.ExecContext(ctx,
		`INSERT INTO hu_speed (id, avg_seconds, count) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET avg_seconds = excluded.avg_seconds, count = excluded.count`,
		next, n+1,
	); err != nil {
		return fmt.Errorf("history: write speed: %w", err)
	}
	return nil
}

// ObserveSpeed 记录一条 HU 的耗时（秒）。
func (s *Store) ObserveSpeed(ctx context.Context, seconds float64) error {
	return observe(ctx, s.db, seconds)
}

// Pace 返回单条 HU 平均秒数与样本数；无数据时为 0。
func (s *Store) Pace(ctx context.Context) (float64, int64, error) {
	var avg float64
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT avg_seconds, count FROM hu_speed WHERE id = 1`).Scan(&avg, &n)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("history: read speed: %w", err)
	}
	return avg, n, nil
}

// Runs 返回最近的运行（新→旧），limit<=0 时取 20 条。
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, input_base, output_path, records, failed, mean_total
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &started, &r.InputBase, &r.OutputPath, &r.Records, &r.Failed, &r.MeanTotal); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest 返回同一输入基名最近一次运行的成功结果（作为上一版分析）。无记录时返回 nil。
func (s *Store) Latest(ctx context.Context, source string) ([]Entry, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE input_base = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, BaseKey(source)).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: latest run: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT initiative, hu_id, title, description, total, tier, summary, scores_json, gaps_json
		 FROM results WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: latest results: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			initiative, id, title, desc, tier, summary, sj, gj string
			total                                              int
		)
		if err := rows.Scan(&initiative, &id, &title, &desc, &total, &tier, &summary, &sj, &gj); err != nil {
			return nil, fmt.Errorf("history: scan result: %w", err)
		}
		var scores map[string]float64
		var gaps map[string]string
		_ = json.Unmarshal([]byte(sj), &scores)
		_ = json.Unmarshal([]byte(gj), &gaps)
		p := contract.Previous{
			ID: id, Title: title, Total: float64(total), Tier: tier, Summary: summary,
			Scores: make(map[contract.Dimension]float64, len(scores)),
			Gaps:   make(map[contract.Dimension]string, len(gaps)),
		}
		for k, v := range scores {
			p.Scores[contract.Dimension(k)] = v
		}
		for k, v := range gaps {
			p.Gaps[contract.Dimension(k)] = v
		}
		out = append(out, NewEntry(initiative, desc, p))
	}
	return out, rows.Err()
}
