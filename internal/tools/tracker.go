package tools

import (
	"path/filepath"
	"sort"
	"sync"
)

// ChangeKind says what happened to a path.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// FileChange represents a single workspace modification
type FileChange struct {
	Path      string     // Relative path from the workspace root
	Kind      ChangeKind
	Additions int        // Lines added (writes only)
	Deletions int        // Lines deleted (writes only)
}

// ChangeTracker tracks paths modified during a run
type ChangeTracker struct {
	root    string
	changes map[string]*FileChange // keyed by relative path
	mu      sync.Mutex
}

// NewChangeTracker creates a new ChangeTracker for the given workspace root
func NewChangeTracker(root string) *ChangeTracker {
	return &ChangeTracker{
		root:    root,
		changes: make(map[string]*FileChange),
	}
}

// Record records a change to absPath. A path created and later modified in
// the same run stays "created"; a path created and then deleted is dropped.
func (ct *ChangeTracker) Record(absPath string, kind ChangeKind, additions, deletions int) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	relPath, err := filepath.Rel(ct.root, absPath)
	if err != nil {
		relPath = absPath
	}
	relPath = filepath.ToSlash(relPath)

	if prev, ok := ct.changes[relPath]; ok && prev.Kind == ChangeCreated {
		switch kind {
		case ChangeModified:
			prev.Additions += additions
			prev.Deletions += deletions
			return
		case ChangeDeleted:
			delete(ct.changes, relPath)
			return
		}
	}

	ct.changes[relPath] = &FileChange{
		Path:      relPath,
		Kind:      kind,
		Additions: additions,
		Deletions: deletions,
	}
}

// Get returns the FileChange for the given relative path, or nil if not found
func (ct *ChangeTracker) Get(relPath string) *FileChange {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	return ct.changes[relPath]
}

// Changes returns a sorted list of all changes
func (ct *ChangeTracker) Changes() []*FileChange {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	result := make([]*FileChange, 0, len(ct.changes))
	for _, change := range ct.changes {
		result = append(result, change)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})

	return result
}

// ModifiedPaths returns just the paths, sorted
func (ct *ChangeTracker) ModifiedPaths() []string {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	paths := make([]string, 0, len(ct.changes))
	for path := range ct.changes {
		paths = append(paths, path)
	}

	sort.Strings(paths)
	return paths
}

// Count returns the number of unique paths changed
func (ct *ChangeTracker) Count() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	return len(ct.changes)
}
