package downloader

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Caches downloaded feeds as files in a directory, so that repeated
// imports of the same URL don't hit the network.
type Filesystem struct {
	Dir     string
	TimeNow func() time.Time

	logger *zap.Logger
	mutex  sync.Mutex
}

func NewFilesystem(dir string, logger *zap.Logger) (*Filesystem, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	return &Filesystem{
		Dir:     dir,
		TimeNow: time.Now,
		logger:  logger,
	}, nil
}

func (f *Filesystem) path(url string, headers map[string]string) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%x.zip", sha256.Sum256([]byte(cacheKey(url, headers)))))
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := f.path(url, headers)

	if options.Cache {
		info, err := os.Stat(path)
		if err == nil {
			if info.ModTime().Add(options.CacheTTL).After(f.TimeNow()) {
				body, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("reading cached feed: %w", err)
				}
				f.logger.Debug("cache hit", zap.String("url", url), zap.String("path", path))
				return body, nil
			}
			f.logger.Debug("cache expired", zap.String("url", url), zap.String("path", path))
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking cache: %w", err)
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		// Write then rename, so a crash never leaves a partial
		// archive behind.
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, body, 0644); err != nil {
			return nil, fmt.Errorf("writing cache: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return nil, fmt.Errorf("writing cache: %w", err)
		}
		now := f.TimeNow()
		if err := os.Chtimes(path, now, now); err != nil {
			return nil, fmt.Errorf("writing cache: %w", err)
		}
	}

	return body, nil
}
