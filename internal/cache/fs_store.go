package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix        = ".binary"
	contentTypeSuffix = ".content_type"
)

// NewStore 以 root 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(root string) (Store, error) {
	if root == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &fileStore{
		root:  abs,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入互相覆盖到一半，
// 不同键之间的读写完全并行。
type fileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		// 查找与打开之间被外部清理属于可容忍竞态，统一按未命中处理。
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Locator:     locator,
		SizeBytes:   info.Size(),
		ContentType: s.readContentType(bodyPath),
		ModTime:     info.ModTime(),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(locator)
	defer unlock()

	bodyPath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(bodyPath), ".vault-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	// 边值先落盘，正文 rename 之后条目才对读取方可见，保证二者一致。
	if opts.ContentType != "" {
		ctypePath := strings.TrimSuffix(bodyPath, bodySuffix) + contentTypeSuffix
		if err := os.WriteFile(ctypePath, []byte(opts.ContentType), 0o644); err != nil {
			os.Remove(tempName)
			return nil, err
		}
	}

	if err := os.Rename(tempName, bodyPath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(bodyPath, modTime, modTime); err != nil {
		return nil, err
	}

	entry := Entry{
		Locator:     locator,
		SizeBytes:   written,
		ContentType: opts.ContentType,
		ModTime:     modTime,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	unlock := s.lockEntry(locator)
	defer unlock()

	bodyPath, err := s.entryPath(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	ctypePath := strings.TrimSuffix(bodyPath, bodySuffix) + contentTypeSuffix
	if err := os.Remove(ctypePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) readContentType(bodyPath string) string {
	ctypePath := strings.TrimSuffix(bodyPath, bodySuffix) + contentTypeSuffix
	raw, err := os.ReadFile(ctypePath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 将 Locator 映射为正文文件路径，并阻止任何跳出前缀目录的穿越。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	prefix := strings.Trim(locator.Prefix, "/")
	if prefix == "" {
		return "", errors.New("cache prefix required")
	}

	rel := locator.Path
	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	bodyPath := filepath.Join(s.root, prefix, filepath.FromSlash(rel)) + bodySuffix
	if !strings.HasPrefix(bodyPath, filepath.Join(s.root, prefix)) {
		return "", errors.New("invalid cache path")
	}
	return bodyPath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func locatorKey(locator Locator) string {
	return locator.Prefix + "::" + locator.Path
}
