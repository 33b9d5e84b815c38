// Package journal 把收到的实时推送按原文写入 SQLite，便于回看和排查
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	// DefaultLimit Recent 未指定 limit 时返回的条数
	DefaultLimit = 50
	// MaxLimit Recent 单次最多返回的条数
	MaxLimit = 500

	writeTimeout = 5 * time.Second
)

// Entry 是一条记录
type Entry struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Journal 推送消息日志
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（或创建）日志库，path 为 ":memory:" 时只存在于内存
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, now: time.Now}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  topic TEXT NOT NULL,
  payload TEXT NOT NULL,
  received_at INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_topic_received ON messages(topic, received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);`,
	}
	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record 写入一条消息，receivedAt 为零值时使用当前时间
func (j *Journal) Record(topic string, payload json.RawMessage, receivedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := j.Append(ctx, topic, payload, receivedAt)
	return err
}

// Append 写入一条消息并返回记录
func (j *Journal) Append(ctx context.Context, topic string, payload json.RawMessage, receivedAt time.Time) (Entry, error) {
	if topic == "" {
		return Entry{}, errors.New("journal: topic is required")
	}
	if !json.Valid(payload) {
		return Entry{}, errors.New("journal: payload is not valid json")
	}
	if receivedAt.IsZero() {
		receivedAt = j.now()
	}
	e := Entry{
		ID:         uuid.NewString(),
		Topic:      topic,
		Payload:    append(json.RawMessage(nil), payload...),
		ReceivedAt: receivedAt,
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO messages (id, topic, payload, received_at)
VALUES (?,?,?,?)
`, e.ID, e.Topic, string(e.Payload), e.ReceivedAt.UnixNano())
	if err != nil {
		return Entry{}, fmt.Errorf("journal insert: %w", err)
	}
	return e, nil
}

// Recent 按接收时间倒序返回最近的记录，topic 为空表示全部
func (j *Journal) Recent(ctx context.Context, topic string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if topic == "" {
		rows, err = j.db.QueryContext(ctx, `
SELECT id, topic, payload, received_at
FROM messages
ORDER BY received_at DESC, rowid DESC
LIMIT ?
`, limit)
	} else {
		rows, err = j.db.QueryContext(ctx, `
SELECT id, topic, payload, received_at
FROM messages
WHERE topic=?
ORDER BY received_at DESC, rowid DESC
LIMIT ?
`, topic, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			payload    string
			receivedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Topic, &payload, &receivedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.ReceivedAt = time.Unix(0, receivedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count 返回每个 topic 的记录数
func (j *Journal) Count(ctx context.Context) (map[string]int64, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT topic, COUNT(*) FROM messages GROUP BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			topic string
			n     int64
		)
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, err
		}
		out[topic] = n
	}
	return out, rows.Err()
}

// Prune 删除早于 before 的记录，返回删除条数
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM messages WHERE received_at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
