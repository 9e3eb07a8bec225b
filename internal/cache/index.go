package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

// TimeFormat 是 created_at 列的存储格式（UTC）。
const TimeFormat = "2006-01-02T15:04:05Z"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entry 是索引中的一行，创建后不再修改。
type Entry struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	URL          string    `json:"url"`
	RelativePath string    `json:"relative_path"`
	Length       int64     `json:"length"`
}

// Index 把 URL 映射到缓存元数据，持久化在缓存根目录下的 SQLite 文件中。
// URL 一律通过参数绑定传入，表名只能是经过校验的标识符。
type Index struct {
	db    *sql.DB
	table string
}

// OpenIndex 打开（必要时创建）path 处的 SQLite 数据库并确保表结构存在。
func OpenIndex(ctx context.Context, path, table string) (*Index, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open index: %v", ErrStorageFailure, err)
	}
	// 单连接：所有写入本就经由 Token 串行化，避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, table: table}
	if err := idx.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// EnsureSchema 创建索引表及 url 唯一索引，可重复调用。
func (x *Index) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	url VARCHAR(256) NOT NULL,
	relative_path VARCHAR(256) NOT NULL,
	length INTEGER NOT NULL
)`, x.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (url)`, x.table+"_url", x.table),
	}
	for _, stmt := range stmts {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrStorageFailure, err)
		}
	}
	return nil
}

// Lookup 返回 url 对应的条目，不存在时返回 ErrNotFound。
func (x *Index) Lookup(ctx context.Context, url string) (Entry, error) {
	row := x.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, created_at, url, relative_path, length FROM %q WHERE url = ?`, x.table),
		url,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: lookup: %v", ErrStorageFailure, err)
	}
	return entry, nil
}

// Insert 写入一条新记录并提交。url 已存在时返回 ErrDuplicateKey。
func (x *Index) Insert(ctx context.Context, url string, createdAt time.Time, relativePath string, length int64) (Entry, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: begin: %v", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(1) FROM %q WHERE url = ?`, x.table),
		url,
	).Scan(&exists)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: insert: %v", ErrStorageFailure, err)
	}
	if exists > 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateKey, url)
	}

	created := createdAt.UTC().Truncate(time.Second)
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %q (created_at, url, relative_path, length) VALUES (?, ?, ?, ?)`, x.table),
		created.Format(TimeFormat), url, relativePath, length,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: insert: %v", ErrStorageFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: insert: %v", ErrStorageFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("%w: commit: %v", ErrStorageFailure, err)
	}

	return Entry{
		ID:           id,
		CreatedAt:    created,
		URL:          url,
		RelativePath: relativePath,
		Length:       length,
	}, nil
}

// Delete 删除 url 对应的记录；记录不存在时不报错。
func (x *Index) Delete(ctx context.Context, url string) error {
	_, err := x.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE url = ?`, x.table), url)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStorageFailure, err)
	}
	return nil
}

// Count 返回当前记录数。
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(1) FROM %q`, x.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStorageFailure, err)
	}
	return n, nil
}

// List 按 id 顺序返回全部记录。
func (x *Index) List(ctx context.Context) ([]Entry, error) {
	rows, err := x.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, created_at, url, relative_path, length FROM %q ORDER BY id`, x.table))
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: list: %v", ErrStorageFailure, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorageFailure, err)
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (x *Index) Close() error {
	return x.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry   Entry
		created string
	)
	if err := row.Scan(&entry.ID, &created, &entry.URL, &entry.RelativePath, &entry.Length); err != nil {
		return Entry{}, err
	}
	parsed, err := time.Parse(TimeFormat, created)
	if err != nil {
		return Entry{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	entry.CreatedAt = parsed.UTC()
	return entry, nil
}
