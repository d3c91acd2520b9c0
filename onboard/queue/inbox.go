package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	INBOX_DEBOUNCE  = 100 * time.Millisecond
	INBOX_EXTENSION = ".json"
	REJECTED_SUFFIX = ".rejected"
)

// Inbox turns command list files dropped into a directory into queued
// actions. A file holds either a JSON list of instructions or an object with
// a "commands" list. Accepted files are removed; invalid ones are renamed
// with REJECTED_SUFFIX. A stopping queue leaves files where they are.
type Inbox struct {
	dir   string
	queue *Queue
	log   *zap.Logger
}

func NewInbox(dir string, queue *Queue, log *zap.Logger) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Inbox{dir: dir, queue: queue, log: log}, nil
}

// Watch scans the directory once, then again whenever files settle after a
// change, until ctx is done.
func (in *Inbox) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}

	in.Scan()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(INBOX_DEBOUNCE)

		case <-debounce.C:
			in.Scan()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.log.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// Scan enqueues every pending inbox file in name order and returns how many
// were accepted.
func (in *Inbox) Scan() (accepted int) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.log.Warn("failed to read inbox", zap.Error(err))
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), INBOX_EXTENSION) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(in.dir, name)
		action, err := in.parse(path)
		if err != nil {
			in.log.Warn("rejected inbox file", zap.String("file", name), zap.Error(err))
			if rerr := os.Rename(path, path+REJECTED_SUFFIX); rerr != nil {
				in.log.Error("failed to reject inbox file", zap.String("file", name), zap.Error(rerr))
			}
			continue
		}

		// valid files the queue cannot take now stay for the next scan
		if err := in.queue.AddAction(action); err != nil {
			in.log.Warn("left inbox file in place", zap.String("file", name), zap.Error(err))
			if errors.Is(err, ERR_STOPPING) {
				return
			}
			continue
		}

		if err := os.Remove(path); err != nil {
			in.log.Error("failed to remove inbox file", zap.String("file", name), zap.Error(err))
		}
		in.log.Info("queued inbox file", zap.String("file", name), zap.Uint64("id", uint64(action.ID())))
		accepted++
	}
	return
}

func (in *Inbox) parse(path string) (*CommandListAction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCommandList(data)
}
