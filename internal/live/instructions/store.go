package instructions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis"
	"github.com/xpanvictor/cortado/pkg/Logger"
)

var (
	ErrNotFound    = errors.New("instructions: page not found")
	ErrInvalidPage = errors.New("instructions: invalid page id")
)

var pageID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const fileExt = ".yaml"

// Source returns instruction text for a page.
type Source interface {
	Get(page string) (string, error)
}

// FileStore reads <dir>/<page>.yaml.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) Get(page string) (string, error) {
	if !pageID.MatchString(page) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPage, page)
	}
	data, err := os.ReadFile(filepath.Join(f.dir, page+fileExt))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, page)
	}
	if err != nil {
		return "", fmt.Errorf("read instructions %s: %w", page, err)
	}
	return string(data), nil
}

// CachedStore keeps recently served pages in Redis.
type CachedStore struct {
	files  *FileStore
	client *redis.Client
	ttl    time.Duration
	logger *Logger.Logger
}

const cachePrefix = "cortado:instructions:"

func NewCachedStore(files *FileStore, client *redis.Client, ttl time.Duration, logger *Logger.Logger) *CachedStore {
	return &CachedStore{
		files:  files,
		client: client,
		ttl:    ttl,
		logger: Logger.OrNop(logger).Named("instructions"),
	}
}

func cacheKey(page string) string { return cachePrefix + page }

func (c *CachedStore) Get(page string) (string, error) {
	if !pageID.MatchString(page) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPage, page)
	}
	cached, err := c.client.Get(cacheKey(page)).Result()
	if err == nil {
		return cached, nil
	}
	if err != redis.Nil {
		c.logger.Warnf("instruction cache read for %s failed: %v", page, err)
	}

	text, err := c.files.Get(page)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(cacheKey(page), text, c.ttl).Err(); err != nil {
		c.logger.Warnf("instruction cache write for %s failed: %v", page, err)
	}
	return text, nil
}

// Invalidate drops the cached copy of page.
func (c *CachedStore) Invalidate(page string) error {
	return c.client.Del(cacheKey(page)).Err()
}

// Watch invalidates cache entries whenever their file changes, until ctx ends.
// ready, if non-nil, is closed once the watcher is registered.
func (c *CachedStore) Watch(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create instruction watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.files.Dir()); err != nil {
		return fmt.Errorf("watch %s: %w", c.files.Dir(), err)
	}
	if ready != nil {
		close(ready)
	}
	c.logger.Infof("watching %s for instruction changes", c.files.Dir())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, fileExt) {
				continue
			}
			page := strings.TrimSuffix(name, fileExt)
			if err := c.Invalidate(page); err != nil {
				c.logger.Warnf("invalidate %s: %v", page, err)
				continue
			}
			c.logger.Debugf("instruction page %s changed (%s), cache dropped", page, ev.Op)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warnf("instruction watcher: %v", err)
		}
	}
}
