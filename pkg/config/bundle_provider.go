package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

// Bundle is one on-disk policy file: a named set of policies loaded together.
type Bundle struct {
	Name     string          `yaml:"name"`
	Policies []domain.Policy `yaml:"policies"`
}

// Snapshot is the merged view of every bundle in the directory at one point
// in time.
type Snapshot struct {
	Generation int64
	Policies   []domain.Policy
}

// BundleProvider loads policy bundles from a directory of YAML files and hot
// reloads them on change. A malformed bundle file is logged and skipped; it
// never poisons the rest of the snapshot.
type BundleProvider struct {
	dir     string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers []chan Snapshot
}

// NewBundleProvider loads the directory and starts watching it.
func NewBundleProvider(dir string, logger *slog.Logger) (*BundleProvider, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &BundleProvider{
		dir:     absDir,
		logger:  logger,
		watcher: watcher,
		cancel:  cancel,
	}

	if err := p.load(); err != nil {
		logger.Warn("initial policy bundle load failed", "dir", absDir, "error", err)
	}

	if err := watcher.Add(absDir); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	go p.watchLoop(ctx)

	return p, nil
}

// CurrentSnapshot returns the most recently loaded policy set.
func (p *BundleProvider) CurrentSnapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel that receives snapshots, starting with the
// current one. Slow consumers miss intermediate snapshots, never the latest.
func (p *BundleProvider) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Close stops the watcher and releases resources.
func (p *BundleProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *BundleProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !isBundleFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := p.load(); err != nil {
						p.logger.Error("policy bundle reload failed", "dir", p.dir, "error", err)
					} else {
						p.logger.Info("policy bundles reloaded", "dir", p.dir)
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("policy bundle watcher error", "error", err)
		}
	}
}

func (p *BundleProvider) load() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isBundleFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var policies []domain.Policy
	for _, name := range names {
		path := filepath.Join(p.dir, name)
		//nolint:gosec // Bundle directory is controlled by the operator
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			p.logger.Warn("skipping unreadable policy bundle", "file", path, "error", readErr)
			continue
		}

		var bundle Bundle
		if parseErr := yaml.Unmarshal(data, &bundle); parseErr != nil {
			p.logger.Warn("skipping malformed policy bundle", "file", path, "error", parseErr)
			continue
		}
		policies = append(policies, bundle.Policies...)
	}

	p.mu.Lock()
	p.snapshot = Snapshot{
		Generation: p.snapshot.Generation + 1,
		Policies:   policies,
	}
	snapshot := p.snapshot
	subscribers := make([]chan Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drain the stale snapshot so the latest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
	return nil
}

func isBundleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
