package awsident

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/store"
)

// MappingSource resolves an AWS ARN to a registered user email. ok is false
// when no mapping applies; err is reserved for backend failures.
type MappingSource interface {
	LookupEmail(ctx context.Context, arn string) (email string, ok bool, err error)
}

// StoreMappings resolves ARNs from IAM mapping records in the shared store.
// Exact-match only; pattern mappings live in the file source.
type StoreMappings struct {
	store store.Store
}

func NewStoreMappings(st store.Store) *StoreMappings {
	return &StoreMappings{store: st}
}

// PutMapping registers an ARN -> email mapping. A zero ttlEpoch means the
// mapping does not expire.
func (m *StoreMappings) PutMapping(ctx context.Context, arn, email string, ttlEpoch int64) error {
	return m.store.Put(ctx, store.Record{
		PartitionKey: store.IAMKey(arn),
		SortKey:      store.SortIAM,
		Payload:      []byte(email),
		ExpiresAt:    ttlEpoch,
	})
}

func (m *StoreMappings) LookupEmail(ctx context.Context, arn string) (string, bool, error) {
	rec, err := m.store.Get(ctx, store.IAMKey(arn), store.SortIAM)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to look up IAM mapping: %w", err)
	}
	return string(rec.Payload), true, nil
}

// mappingFile is the on-disk schema.
type mappingFile struct {
	Mappings []struct {
		ArnPattern string `yaml:"arn_pattern"`
		Email      string `yaml:"email"`
	} `yaml:"mappings"`
	ExtractEmailFromSessionName bool `yaml:"extract_email_from_session_name"`
}

type mappingEntry struct {
	pattern string
	email   string
}

// FileMappings loads ARN patterns from a YAML file and hot-reloads it when
// the file changes. Patterns use path-style globs ("*" does not cross "/").
type FileMappings struct {
	path   string
	logger *observability.Logger

	mu          sync.RWMutex
	entries     []mappingEntry
	sessionName bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewFileMappings loads the file and starts watching it. The initial load
// must succeed; later reload failures keep the previous mappings.
func NewFileMappings(filePath string, logger *observability.Logger) (*FileMappings, error) {
	m := &FileMappings{
		path:   filePath,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := m.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping file watcher: %w", err)
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(path.Dir(filePath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch mapping file: %w", err)
	}
	m.watcher = watcher
	go m.watch()
	return m, nil
}

func (m *FileMappings) watch() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Name != m.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := m.reload(); err != nil {
				m.logger.WithError(err).Warn("failed to reload IAM mapping file; keeping previous mappings")
			} else {
				m.logger.WithField("path", m.path).Info("reloaded IAM mapping file")
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.WithError(err).Warn("IAM mapping file watcher error")
		case <-m.done:
			return
		}
	}
}

func (m *FileMappings) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file: %w", err)
	}

	var parsed mappingFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse mapping file: %w", err)
	}

	entries := make([]mappingEntry, 0, len(parsed.Mappings))
	for _, e := range parsed.Mappings {
		if e.ArnPattern == "" || e.Email == "" {
			return fmt.Errorf("mapping file entry missing arn_pattern or email")
		}
		if _, err := path.Match(e.ArnPattern, ""); err != nil {
			return fmt.Errorf("invalid arn_pattern %q: %w", e.ArnPattern, err)
		}
		entries = append(entries, mappingEntry{pattern: e.ArnPattern, email: e.Email})
	}

	m.mu.Lock()
	m.entries = entries
	m.sessionName = parsed.ExtractEmailFromSessionName
	m.mu.Unlock()
	return nil
}

func (m *FileMappings) LookupEmail(_ context.Context, arn string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.pattern == arn {
			return e.email, true, nil
		}
		if matched, _ := path.Match(e.pattern, arn); matched {
			return e.email, true, nil
		}
	}
	return "", false, nil
}

// SessionNameExtractionEnabled reports the file's
// extract_email_from_session_name flag.
func (m *FileMappings) SessionNameExtractionEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionName
}

// Close stops the watcher.
func (m *FileMappings) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if m.watcher != nil {
			err = m.watcher.Close()
		}
	})
	return err
}
