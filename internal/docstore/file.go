package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bassista/go_courses/internal/logger"
)

// Metadata holds the time of the last write, in Unix milliseconds.
type Metadata struct {
	LastUpdate int64 `json:"lastUpdate"`
}

// DataFile is the persisted JSON layout of the file store.
type DataFile struct {
	Metadata    Metadata              `json:"metadata"`
	Collections map[string][]Document `json:"collections" validate:"dive,dive"`
}

const watchDebounce = 200 * time.Millisecond

// FileStore keeps every collection in a single JSON file.
// Writes are atomic (temp file + rename). Subscriptions watch the parent directory
// so edits made by other processes are pushed as fresh snapshots too.
type FileStore struct {
	path      string
	dir       string
	base      string
	validator *validator.Validate
	newID     func() string
	mu        sync.Mutex

	feedsMu sync.Mutex
	feeds   map[string]map[*feed]struct{}
}

// NewFileStore creates a store backed by the JSON file at path.
// A missing file is treated as an empty store and created on the first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("data file path is required")
	}

	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &FileStore{
		path:      path,
		dir:       dir,
		base:      filepath.Base(path),
		validator: validator.New(),
		newID:     uuid.NewString,
		feeds:     map[string]map[*feed]struct{}{},
	}, nil
}

// Load reads, parses and validates the data file.
func (s *FileStore) Load() (*DataFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUnlocked()
}

func (s *FileStore) loadUnlocked() (*DataFile, error) {
	data := &DataFile{Collections: map[string][]Document{}}

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	dec.UseNumber()
	if err := dec.Decode(data); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}
	if data.Collections == nil {
		data.Collections = map[string][]Document{}
	}
	if err := s.validator.Struct(data); err != nil {
		return nil, fmt.Errorf("validate data file: %w", err)
	}
	return data, nil
}

func (s *FileStore) saveUnlocked(data *DataFile) error {
	data.Metadata.LastUpdate = time.Now().UnixMilli()

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, s.base+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), s.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// mutate runs fn on a freshly loaded file and persists the result.
func (s *FileStore) mutate(collection string, fn func(docs []Document) ([]Document, error)) error {
	s.mu.Lock()
	data, err := s.loadUnlocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	docs, err := fn(data.Collections[collection])
	if err != nil {
		s.mu.Unlock()
		return err
	}
	data.Collections[collection] = docs
	err = s.saveUnlocked(data)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func (s *FileStore) QueryAll(_ context.Context, collection string) ([]Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	data, err := s.Load()
	if err != nil {
		return nil, err
	}
	docs := data.Collections[collection]
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.Fields == nil {
			d.Fields = map[string]any{}
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *FileStore) Create(_ context.Context, collection string, fields map[string]any) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	stored, err := cloneFields(fields)
	if err != nil {
		return "", err
	}

	id := s.newID()
	err = s.mutate(collection, func(docs []Document) ([]Document, error) {
		return append(docs, Document{ID: id, Fields: stored}), nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	patch, err := cloneFields(fields)
	if err != nil {
		return err
	}

	return s.mutate(collection, func(docs []Document) ([]Document, error) {
		for i := range docs {
			if docs[i].ID == id {
				docs[i].Fields = mergeFields(docs[i].Fields, patch)
				return docs, nil
			}
		}
		return nil, notFound(collection, id)
	})
}

func (s *FileStore) Delete(_ context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}

	return s.mutate(collection, func(docs []Document) ([]Document, error) {
		kept := make([]Document, 0, len(docs))
		for _, d := range docs {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		return kept, nil
	})
}

// Subscribe opens a feed on the collection. Besides local writes, the parent
// directory is watched (not the file) so atomic replace sequences made by other
// writers are still observed; bursts of events are debounced into one reload.
func (s *FileStore) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch dir: %w", err)
	}

	watchDone := make(chan struct{})

	s.feedsMu.Lock()
	f := startFeed(ctx, func(ctx context.Context) ([]Document, error) {
		return s.QueryAll(ctx, collection)
	})
	f.onClose = func() error {
		<-watchDone
		s.feedsMu.Lock()
		delete(s.feeds[collection], f)
		s.feedsMu.Unlock()
		return nil
	}
	if s.feeds[collection] == nil {
		s.feeds[collection] = map[*feed]struct{}{}
	}
	s.feeds[collection][f] = struct{}{}
	s.feedsMu.Unlock()

	go s.watch(f, watcher, watchDone)
	return f, nil
}

func (s *FileStore) watch(f *feed, watcher *fsnotify.Watcher, done chan<- struct{}) {
	defer close(done)
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	schedule := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(watchDebounce, f.Notify)
	}

	for {
		select {
		case <-f.Context().Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != s.base {
				continue
			}
			// Remove/Rename is the first half of an atomic replace; the reload
			// after the debounce sees the new file.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithComponent("file-store").Warnf("watcher error: %v", err)
			f.Fail(fmt.Errorf("watch %s: %w", s.path, err))
		}
	}
}

func (s *FileStore) notify(collection string) {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()
	for f := range s.feeds[collection] {
		f.Notify()
	}
}

// Close ends every open subscription.
func (s *FileStore) Close() error {
	s.feedsMu.Lock()
	var open []*feed
	for _, set := range s.feeds {
		for f := range set {
			open = append(open, f)
		}
	}
	s.feedsMu.Unlock()

	for _, f := range open {
		_ = f.Close()
	}
	return nil
}
