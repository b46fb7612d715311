package archive

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/sruth/internal/logger"
)

// DelayedPathActionQueue is a persistent priority queue of scheduled path
// deletions, keyed by due time. It survives process
// restart: entries are stored in a BadgerDB database under
// `<root>/.sruth/fileDeletionQueue`, the one subtree of `.sruth` not
// purged at startup.
//
// The due-time-prefixed key encoding makes badger's natural key order a
// priority order: the earliest-due entry is always the first key a
// forward iterator visits.
type DelayedPathActionQueue struct {
	db   *badger.DB
	root string

	mu   sync.Mutex
	wake chan struct{}
}

// OpenDelayedPathActionQueue opens (creating if absent) the persistent
// deletion queue at dir. root is the archive root, needed to know where
// to stop when cleaning up now-empty ancestor directories after a
// deletion fires.
func OpenDelayedPathActionQueue(dir, root string) (*DelayedPathActionQueue, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create deletion queue dir: %w", err)
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("archive: open deletion queue: %w", err)
	}

	return &DelayedPathActionQueue{
		db:   db,
		root: root,
		wake: make(chan struct{}, 1),
	}, nil
}

// Schedule persists a deletion of path due at due. A TTL < 0 (never
// expire) should never reach Schedule; callers check NeverExpires first.
func (q *DelayedPathActionQueue) Schedule(path string, due time.Time) error {
	key := encodeDueKey(due, path)

	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(path))
	}); err != nil {
		return fmt.Errorf("archive: schedule deletion of %s: %w", path, err)
	}

	q.signalWake()
	return nil
}

// Cancel removes any scheduled deletion of path, used when a file is
// removed or replaced before its TTL fires.
func (q *DelayedPathActionQueue) Cancel(path string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var toDelete [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(v) == path {
				toDelete = append(toDelete, item.KeyCopy(nil))
			}
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q *DelayedPathActionQueue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run processes due deletions until ctx is cancelled. It should be run in
// its own goroutine for the lifetime of the Archive.
func (q *DelayedPathActionQueue) Run(ctx context.Context) {
	for {
		due, key, path, ok := q.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		wait := time.Until(due)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-q.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		if err := q.fire(key, path); err != nil {
			logger.Warn("delayed path action failed", "path", path, "error", err)
		}
	}
}

// Close releases the underlying BadgerDB handle. Idempotent is not
// required: callers close exactly once during Archive.Close.
func (q *DelayedPathActionQueue) Close() error {
	return q.db.Close()
}

func (q *DelayedPathActionQueue) peek() (due time.Time, key []byte, path string, ok bool) {
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Rewind()
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		key = item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		path = string(v)
		due = decodeDueKey(key)
		ok = true
		return nil
	})
	if err != nil {
		logger.Warn("delayed path action queue peek failed", "error", err)
		return time.Time{}, nil, "", false
	}
	return due, key, path, ok
}

func (q *DelayedPathActionQueue) fire(key []byte, path string) error {
	if err := deletePathAndEmptyAncestors(q.root, path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// deletePathAndEmptyAncestors unlinks path then removes now-empty
// ancestor directories up to (but not including) root.
func deletePathAndEmptyAncestors(root, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	dir := filepath.Dir(path)
	for dir != root && dir != "." && dir != string(filepath.Separator) {
		if err := os.Remove(dir); err != nil {
			break // not empty, or already gone: stop climbing
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

func encodeDueKey(due time.Time, path string) []byte {
	key := make([]byte, 8, 8+len(path)+1)
	binary.BigEndian.PutUint64(key, uint64(due.UnixNano()))
	key = append(key, '|')
	key = append(key, path...)
	return key
}

func decodeDueKey(key []byte) time.Time {
	nanos := binary.BigEndian.Uint64(key[:8])
	return time.Unix(0, int64(nanos))
}
