package launch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound: 台账中不存在该提交。
var ErrNotFound = errors.New("launch: submission not found")

// RemoteRun 标记不经调度器的本地直跑记录。
const RemoteRun = "run"

// Submission: 台账中的一条提交（或本地直跑）记录。
type Submission struct {
	ID           string
	Job          string
	Entry        string
	Arg          string
	Remote       string // "local" 为本机调度器；RemoteRun 为直跑；其余为 ssh 目标
	CPUs         int
	ScriptPath   string
	ScriptSHA256 string
	SchedID      string // 调度器作业号
	Status       string
	ExitCode     int // 仅直跑有效；未知为 -1
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store: SQLite 提交台账。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore 打开（必要时创建）台账数据库并执行增量迁移。
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 单连接：:memory: 库按连接隔离
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	const create = `
CREATE TABLE IF NOT EXISTS submissions (
  id            TEXT PRIMARY KEY,
  job           TEXT NOT NULL,
  entry         TEXT NOT NULL,
  arg           TEXT,
  remote        TEXT,
  script_path   TEXT,
  script_sha256 TEXT,
  sched_id      TEXT,
  status        TEXT,
  created_at    TEXT,
  updated_at    TEXT
);`
	if _, err := db.Exec(create); err != nil {
		return err
	}
	migrations := []string{
		`ALTER TABLE submissions ADD COLUMN cpus INTEGER`,
		`ALTER TABLE submissions ADD COLUMN exit_code INTEGER`,
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
				continue
			}
			return err
		}
	}
	return nil
}

// Insert 写入新记录；ID 为空时生成 uuid。返回最终记录。
func (s *Store) Insert(ctx context.Context, sub Submission) (Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Second)
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO submissions
  (id, job, entry, arg, remote, script_path, script_sha256, sched_id, status, created_at, updated_at, cpus, exit_code)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Job, sub.Entry, sub.Arg, sub.Remote, sub.ScriptPath, sub.ScriptSHA256, sub.SchedID, sub.Status,
		sub.CreatedAt.Format(time.RFC3339), sub.UpdatedAt.Format(time.RFC3339), sub.CPUs, sub.ExitCode)
	if err != nil {
		return Submission{}, fmt.Errorf("ledger insert: %w", err)
	}
	return sub, nil
}

// UpdateStatus 更新调度状态。
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("ledger update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectCols = `SELECT id, job, entry, arg, remote, script_path, script_sha256, sched_id, status,
  created_at, updated_at, cpus, exit_code FROM submissions`

type scanner interface{ Scan(dest ...any) error }

func scanSubmission(r scanner) (Submission, error) {
	var sub Submission
	var arg, remote, path, sum, sched, status, created, updated sql.NullString
	var cpus, exit sql.NullInt64
	if err := r.Scan(&sub.ID, &sub.Job, &sub.Entry, &arg, &remote, &path, &sum, &sched, &status,
		&created, &updated, &cpus, &exit); err != nil {
		return Submission{}, err
	}
	sub.Arg, sub.Remote, sub.ScriptPath, sub.ScriptSHA256 = arg.String, remote.String, path.String, sum.String
	sub.SchedID, sub.Status = sched.String, status.String
	sub.CPUs = int(cpus.Int64)
	sub.ExitCode = -1
	if exit.Valid {
		sub.ExitCode = int(exit.Int64)
	}
	if t, err := time.Parse(time.RFC3339, created.String); err == nil {
		sub.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updated.String); err == nil {
		sub.UpdatedAt = t
	}
	return sub, nil
}

// Get 按 id 或唯一前缀查找。
func (s *Store) Get(ctx context.Context, id string) (Submission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Submission{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	prefix := stripWildcards(id)
	if prefix == "" {
		return Submission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rows, err := s.db.QueryContext(ctx, selectCols+` WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2`, id, prefix+"%")
	if err != nil {
		return Submission{}, err
	}
	defer rows.Close()
	var found []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return Submission{}, err
		}
		if sub.ID == id {
			return sub, nil
		}
		found = append(found, sub)
	}
	if err := rows.Err(); err != nil {
		return Submission{}, err
	}
	switch len(found) {
	case 0:
		return Submission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return found[0], nil
	default:
		return Submission{}, fmt.Errorf("launch: id prefix %q is ambiguous", id)
	}
}

// List 返回最近的 limit 条记录（新在前）；limit<=0 表示全部。
func (s *Store) List(ctx context.Context, limit int) ([]Submission, error) {
	q := selectCols + ` ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func stripWildcards(s string) string {
	r := strings.NewReplacer(`%`, ``, `_`, ``)
	return r.Replace(s)
}
