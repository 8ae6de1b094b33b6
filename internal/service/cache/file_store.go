package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"go.uber.org/zap"
)

const (
	bundleExt      = ".json"
	bundleFileMode = 0644
)

// FileStore keeps each bundle at <dir>/<bvid>.json as indented UTF-8 JSON.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger}
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Path(bvid string) string {
	return filepath.Join(s.dir, bvid+bundleExt)
}

func (s *FileStore) Exists(_ context.Context, bvid string) (bool, error) {
	if err := domain.ValidateBVID(bvid); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(bvid))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.NewCacheError("stat failed", "exists", s.Path(bvid), err)
}

func (s *FileStore) Load(_ context.Context, bvid string) (*domain.VideoDanmakuBundle, error) {
	if err := domain.ValidateBVID(bvid); err != nil {
		return nil, err
	}
	return s.LoadFile(s.Path(bvid))
}

// LoadFile decodes a bundle document from an arbitrary path.
func (s *FileStore) LoadFile(path string) (*domain.VideoDanmakuBundle, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NewCacheError("bundle missing", "load", path, ErrBundleNotFound)
	}
	if err != nil {
		return nil, errors.NewCacheError("read failed", "load", path, err)
	}

	var bundle domain.VideoDanmakuBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, errors.NewCacheError("unmarshal failed", "load", path, err)
	}
	return normalized(&bundle), nil
}

// Save writes through a temporary file and rename so an interrupted run
// never leaves a truncated document behind.
func (s *FileStore) Save(_ context.Context, bundle *domain.VideoDanmakuBundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}
	path := s.Path(bundle.Video.BVID)

	data, err := encodeBundle(bundle)
	if err != nil {
		return errors.NewCacheError("marshal failed", "save", path, err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.NewCacheError("mkdir failed", "save", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, bundle.Video.BVID+".*.tmp")
	if err != nil {
		return errors.NewCacheError("create temp failed", "save", path, err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(bundleFileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewCacheError("chmod failed", "save", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewCacheError("write failed", "save", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewCacheError("close failed", "save", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewCacheError("rename failed", "save", path, err)
	}

	s.logger.Debug("Bundle saved",
		zap.String("bvid", bundle.Video.BVID),
		zap.Int("danmaku", len(bundle.Danmaku)),
		zap.String("path", path),
	)
	return nil
}

// LoadAll returns every bundle in the directory ordered by file name. A
// missing directory yields an empty result.
func (s *FileStore) LoadAll(_ context.Context) ([]*domain.VideoDanmakuBundle, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return []*domain.VideoDanmakuBundle{}, nil
	}

	paths, err := filepath.Glob(filepath.Join(s.dir, "*"+bundleExt))
	if err != nil {
		return nil, errors.NewCacheError("glob failed", "load_all", s.dir, err)
	}
	sort.Strings(paths)

	bundles := make([]*domain.VideoDanmakuBundle, 0, len(paths))
	for _, path := range paths {
		bundle, err := s.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

// WriteRaw stores an already-encoded bundle document under name.
func (s *FileStore) WriteRaw(name string, data []byte) (string, error) {
	var decoded domain.VideoDanmakuBundle
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", errors.NewCacheError("invalid bundle document", "write_raw", name, err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", errors.NewCacheError("mkdir failed", "write_raw", s.dir, err)
	}
	path := s.Path(name)
	if err := os.WriteFile(path, data, bundleFileMode); err != nil {
		return "", errors.NewCacheError("write failed", "write_raw", path, err)
	}
	return path, nil
}

func encodeBundle(bundle *domain.VideoDanmakuBundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(normalized(bundle)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
