package hls

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cotowatch/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const segmentExt = ".ts"

// SegmentWatcher reports .ts files as the segmenter creates them in an output directory.
type SegmentWatcher struct {
	dir       string
	watcher   *fsnotify.Watcher
	log       *zap.Logger
	onSegment func(name string, n int)

	mu   sync.Mutex
	seen map[string]struct{}

	done chan struct{}
	once sync.Once
}

// WatchSegments starts watching dir. onSegment may be nil; it is called once per
// segment name, from the watcher goroutine or from Close.
func WatchSegments(dir string, log *zap.Logger, onSegment func(name string, n int)) (*SegmentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	if log == nil {
		log = logger.Named("hls")
	}

	sw := &SegmentWatcher{
		dir:       dir,
		watcher:   w,
		log:       log,
		onSegment: onSegment,
		seen:      make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	go sw.loop()
	return sw, nil
}

func (sw *SegmentWatcher) loop() {
	defer close(sw.done)
	for {
		select {
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				sw.record(filepath.Base(ev.Name))
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.log.Warn("segment watcher error", logger.ErrorField(err))
		}
	}
}

func (sw *SegmentWatcher) record(name string) {
	if !strings.HasSuffix(name, segmentExt) {
		return
	}
	sw.mu.Lock()
	if _, dup := sw.seen[name]; dup {
		sw.mu.Unlock()
		return
	}
	sw.seen[name] = struct{}{}
	n := len(sw.seen)
	sw.mu.Unlock()

	if sw.onSegment != nil {
		sw.onSegment(name, n)
	}
}

// Count is the number of distinct segments seen so far.
func (sw *SegmentWatcher) Count() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.seen)
}

// Close stops watching, reports segments whose events were still in flight and
// returns the final count.
func (sw *SegmentWatcher) Close() int {
	sw.once.Do(func() {
		sw.watcher.Close()
		<-sw.done
		names, err := listSegments(sw.dir)
		if err != nil {
			sw.log.Warn("failed to list segments", logger.String("dir", sw.dir), logger.ErrorField(err))
		}
		for _, name := range names {
			sw.record(name)
		}
	})
	return sw.Count()
}

func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), segmentExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// clearSegments removes output left by an earlier run so the new pass starts empty.
func clearSegments(dir string) error {
	names, err := listSegments(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	names = append(names, ManifestName)
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
