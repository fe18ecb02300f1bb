package tools

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mark3labs/taskr/internal/logger"
)

const (
	watchSettle  = 50 * time.Millisecond
	watchMaxWait = 500 * time.Millisecond
	maxWatchDirs = 2000
)

// fsWatcher records filesystem changes made by a shell command, which the
// file tools cannot see. It follows .gitignore.
type fsWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	ignore  *gitIgnore
	dirs    int
	created map[string]bool // relative path -> first event was a create
	last    time.Time
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// watchWorkspace starts watching root. Returns nil when watching is not
// possible; callers then simply miss shell-made changes.
func watchWorkspace(root string) *fsWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("file watcher unavailable: %v", err)
		return nil
	}
	fw := &fsWatcher{
		watcher: w,
		root:    root,
		ignore:  loadGitIgnore(root),
		created: make(map[string]bool),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	fw.addRecursive(root, false)
	go fw.eventLoop()
	return fw
}

// finish waits for in-flight events to settle, stops the watcher and records
// every changed path in tracker.
func (fw *fsWatcher) finish(tracker *ChangeTracker) {
	deadline := time.Now().Add(watchMaxWait)
	for time.Now().Before(deadline) {
		time.Sleep(watchSettle)
		fw.mu.Lock()
		quiet := time.Since(fw.last) >= watchSettle
		fw.mu.Unlock()
		if quiet {
			break
		}
	}

	close(fw.done)
	<-fw.stopped
	_ = fw.watcher.Close()

	for _, rel := range fw.paths() {
		abs := filepath.Join(fw.root, filepath.FromSlash(rel))
		info, err := os.Lstat(abs)
		switch {
		case err != nil:
			tracker.Record(abs, ChangeDeleted, 0, 0)
		case info.IsDir():
			// directories only matter through their files
		case fw.created[rel]:
			tracker.Record(abs, ChangeCreated, 0, 0)
		default:
			tracker.Record(abs, ChangeModified, 0, 0)
		}
	}
}

func (fw *fsWatcher) paths() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	paths := make([]string, 0, len(fw.created))
	for p := range fw.created {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// addRecursive adds watches for root and every non-ignored directory below it.
// With seed set, files already present are recorded as created: they were
// written before the watch on a new directory was in place.
func (fw *fsWatcher) addRecursive(root string, seed bool) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(fw.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && fw.ignore.IsIgnored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if seed {
				fw.mark(rel, true)
			}
			return nil
		}
		if fw.dirs >= maxWatchDirs {
			logger.Warn("file watcher: more than %d directories, changes below %s are not tracked", maxWatchDirs, path)
			return filepath.SkipAll
		}
		if err := fw.watcher.Add(path); err != nil {
			logger.Warn("file watcher: failed to watch %s: %v", path, err)
			if strings.Contains(err.Error(), "no space left on device") ||
				strings.Contains(err.Error(), "too many open files") {
				return filepath.SkipAll
			}
			return nil
		}
		fw.dirs++
		return nil
	})
}

func (fw *fsWatcher) eventLoop() {
	defer close(fw.stopped)
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error: %v", err)
		}
	}
}

func (fw *fsWatcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	rel, err := filepath.Rel(fw.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, statErr := os.Stat(event.Name); statErr == nil {
		isDir = info.IsDir()
	}
	if fw.ignore.IsIgnored(rel, isDir) {
		return
	}
	if event.Has(fsnotify.Create) && isDir {
		fw.addRecursive(event.Name, true)
	}
	fw.mark(rel, event.Has(fsnotify.Create))
}

// mark records a change to rel. The first event decides whether the path
// counts as created.
func (fw *fsWatcher) mark(rel string, created bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.last = time.Now()
	if _, seen := fw.created[rel]; !seen {
		fw.created[rel] = created
	}
}
