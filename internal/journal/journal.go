package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/levercycle/internal/workflow"
)

// Journal 运行日志：每次运行一行 runs，每个状态转换一行 steps
// 失败后运维按 last_state 与交易哈希人工接续；工作流本身不读回
type Journal struct {
	db *sql.DB
}

// Run 一次运行的概要
type Run struct {
	ID         string
	Account    string
	State      string
	LastState  string
	FailedStep string
	ErrorKind  string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Steps      []Step
}

// Step 一次状态转换
type Step struct {
	Step     string
	From     string
	To       string
	TxHashes []string
	At       time.Time
}

var _ workflow.Recorder = (*Journal)(nil)

// Open 打开（或创建）SQLite 日志库
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  account TEXT NOT NULL,
  state TEXT NOT NULL,
  last_state TEXT,
  failed_step TEXT,
  error_kind TEXT,
  error TEXT,
  report_json TEXT,
  started_at TEXT NOT NULL,
  finished_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS steps (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  step TEXT NOT NULL,
  from_state TEXT NOT NULL,
  to_state TEXT NOT NULL,
  tx_hashes TEXT,
  at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, id);`,
	}
	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// StartRun 记录运行开始
func (j *Journal) StartRun(ctx context.Context, report *workflow.Report) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO runs (id, account, state, started_at)
VALUES (?,?,?,?)
`, report.RunID, report.Account.Hex(), string(report.State), report.StartedAt.Format(time.RFC3339Nano))
	return err
}

// RecordStep 记录一次状态转换
func (j *Journal) RecordStep(ctx context.Context, runID string, rec workflow.StepRecord) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO steps (run_id, step, from_state, to_state, tx_hashes, at)
VALUES (?,?,?,?,?,?)
`, runID, rec.Step, string(rec.From), string(rec.To), strings.Join(rec.TxHashes, ","), rec.At.Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET state=? WHERE id=?`, string(rec.To), runID); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishRun 记录运行结果与完整报告
func (j *Journal) FinishRun(ctx context.Context, report *workflow.Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
UPDATE runs
SET state=?, last_state=?, failed_step=?, error_kind=?, error=?, report_json=?, finished_at=?
WHERE id=?
`, string(report.State), nullString(string(report.LastState)), nullString(report.FailedStep),
		nullString(string(report.ErrorKind)), nullString(report.Error), string(raw),
		report.FinishedAt.Format(time.RFC3339Nano), report.RunID)
	return err
}

// GetRun 读取一次运行及其步骤；不存在返回 nil
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, account, state, last_state, failed_step, error_kind, error, started_at, finished_at
FROM runs
WHERE id=?
`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	steps, err := j.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Steps = steps
	return r, nil
}

// ListRuns 最近的运行（按开始时间倒序）
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, account, state, last_state, failed_step, error_kind, error, started_at, finished_at
FROM runs
ORDER BY started_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (j *Journal) listSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT step, from_state, to_state, tx_hashes, at
FROM steps
WHERE run_id=?
ORDER BY id
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var (
			s   Step
			txs sql.NullString
			at  string
		)
		if err := rows.Scan(&s.Step, &s.From, &s.To, &txs, &at); err != nil {
			return nil, err
		}
		if txs.Valid && txs.String != "" {
			s.TxHashes = strings.Split(txs.String, ",")
		}
		s.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r          Run
		lastState  sql.NullString
		failedStep sql.NullString
		errKind    sql.NullString
		errStr     sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Account, &r.State, &lastState, &failedStep, &errKind, &errStr, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.LastState = lastState.String
	r.FailedStep = failedStep.String
	r.ErrorKind = errKind.String
	r.Error = errStr.String
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return &r, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
