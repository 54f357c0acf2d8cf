package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"tablesearch/internal/logging"
)

// Progress watches the output directory and logs each task artifact as it
// lands.
type Progress struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dir     string
	pending map[string]bool
	total   int
	seen    int

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewProgress creates a watcher for the artifacts of tasks under dir.
func NewProgress(dir string, tasks []Task) (*Progress, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	pending := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		pending[t.ID] = true
	}
	return &Progress{
		watcher: w,
		dir:     dir,
		pending: pending,
		total:   len(tasks),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching in a goroutine.
func (p *Progress) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Stop ends the watch and releases the watcher.
func (p *Progress) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.doneCh
	if err := p.watcher.Close(); err != nil {
		logging.SchedulerWarn("progress watcher close: %v", err)
	}
}

// Seen returns how many tasks have written an artifact so far.
func (p *Progress) Seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

func (p *Progress) run(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handle(event)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			logging.SchedulerWarn("progress watcher: %v", err)
		}
	}
}

func (p *Progress) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return
	}
	id := strings.TrimSuffix(name, ".json")

	p.mu.Lock()
	if !p.pending[id] {
		p.mu.Unlock()
		return
	}
	delete(p.pending, id)
	p.seen++
	seen, total := p.seen, p.total
	p.mu.Unlock()

	logging.Scheduler("progress: %d/%d tasks have results (latest %s)", seen, total, id)
}
