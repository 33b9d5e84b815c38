// Package persistence 以 JSON 形式保存和读取小块状态，后端可以是文件或 badger
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/betbot/sentinel/pkg/logger"
)

// Service 按 prefix/id/tag 分配 Store
type Service interface {
	NewStore(prefix, id, tag string) Store
	Close() error
}

// Store 单个 key 的读写
type Store interface {
	Save(data any) error
	Load(data any) error
}

// ErrNotExists key 不存在
var ErrNotExists = errors.New("persistence: data not exists")

func storeKey(prefix, id, tag string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, id, tag)
}

// FileService 每个 key 一个 JSON 文件
type FileService struct {
	dir string
}

// NewFileService 文件保存在 dir 下，目录在第一次写入时创建
func NewFileService(dir string) *FileService {
	return &FileService{dir: dir}
}

func (s *FileService) NewStore(prefix, id, tag string) Store {
	key := storeKey(prefix, id, tag)
	return &fileStore{
		key:  key,
		dir:  s.dir,
		path: filepath.Join(s.dir, unsafeChars.ReplaceAllString(key, "_")+".json"),
	}
}

func (s *FileService) Close() error { return nil }

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

type fileStore struct {
	key  string
	dir  string
	path string
}

// Save 写临时文件后改名，读方不会看到半截内容
func (s *fileStore) Save(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("persistence: encode %s: %w", s.key, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	logger.Debugf("[persistence] 写入 %s (%d bytes)", s.path, len(b))
	return os.Rename(tmp.Name(), s.path)
}

func (s *fileStore) Load(data any) error {
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrNotExists
	case err != nil:
		return err
	case len(b) == 0:
		return ErrNotExists
	}
	if err := json.Unmarshal(b, data); err != nil {
		return fmt.Errorf("persistence: decode %s: %w", s.key, err)
	}
	return nil
}
