package eventlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher wakes pollers when the live log file changes, so consumers do
// not have to busy-poll. It watches the log's directory: the live file is
// replaced on rotation and recreated on the next emit, and a directory
// watch survives both.
//
// Notifications are advisory. They coalesce: a pending notification absorbs
// later ones, and consumers must still call Poll to read events.
type Watcher struct {
	fsw  *fsnotify.Watcher
	ch   chan struct{}
	done chan struct{}
}

// NewWatcher starts watching the given log for appends and rotations.
// The log's directory is created if it does not exist yet.
func NewWatcher(log *Log) (*Watcher, error) {
	if err := os.MkdirAll(log.dir, 0755); err != nil {
		return nil, fmt.Errorf("eventlog: create directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("eventlog: create watcher: %w", err)
	}
	if err := fsw.Add(log.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("eventlog: watch directory: %w", err)
	}

	w := &Watcher{
		fsw:  fsw,
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.run(log.Path())
	return w, nil
}

// Changes returns a channel that receives a signal after the log file
// is written, created, or rotated away.
func (w *Watcher) Changes() <-chan struct{} {
	return w.ch
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

// Follow streams events appended after the given 0-based line offset to
// fn until ctx is cancelled, waking on filesystem notifications instead
// of an interval. When the log is rotated away beneath the offset,
// delivery restarts from the top of the new live file. It returns the
// offset a later Follow or Poll should resume from.
func (l *Log) Follow(ctx context.Context, sinceLine int, fn func(StoredEvent)) (int, error) {
	w, err := NewWatcher(l)
	if err != nil {
		return sinceLine, err
	}
	defer w.Close()

	offset := sinceLine
	deliver := func() error {
		res, err := l.Poll(offset)
		if err != nil {
			return err
		}
		if len(res.Events) == 0 && offset > 0 {
			if n, cerr := l.countLines(); os.IsNotExist(cerr) || (cerr == nil && n < offset) {
				// Rotated; the live file restarted below the offset.
				offset = 0
				if res, err = l.Poll(0); err != nil {
					return err
				}
			}
		}
		offset = res.LastLine
		for _, ev := range res.Events {
			fn(ev)
		}
		return nil
	}

	// Drain the backlog before waiting for change notifications.
	if err := deliver(); err != nil {
		return offset, err
	}
	for {
		select {
		case <-ctx.Done():
			return offset, nil
		case <-w.Changes():
			if err := deliver(); err != nil {
				return offset, err
			}
		}
	}
}

func (w *Watcher) run(logPath string) {
	defer close(w.done)
	base := filepath.Base(logPath)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			select {
			case w.ch <- struct{}{}:
			default:
				// A notification is already pending.
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
