// Package tree implements the in-memory folder/track graph described in
// SPEC_FULL.md §4.1, grounded on original_source/src/watcher.rs's
// InMemoryTree/FolderNode. It answers "which playlist folder owns this
// path?" and is the single source of truth the Event Ingest component
// mutates under a mutex on every filesystem notification.
package tree

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// smbTempMarker is the path-segment prefix SMB clients use for temporary
// files during a rename/write; such paths are never tracked.
const smbTempMarker = ".::TMPNAME:"

// Node is one watched folder: its direct child folders and the track
// files it directly contains (not recursively).
type Node struct {
	Path     string
	Children map[string]struct{}
	Tracks   map[string]struct{}
}

func newNode(path string) *Node {
	return &Node{Path: path, Children: make(map[string]struct{}), Tracks: make(map[string]struct{})}
}

// Tree is the in-memory folder graph rooted at Root. All mutation methods
// must be called with the caller already holding no other lock on Tree;
// Tree provides its own internal mutex (SPEC_FULL.md §5: "the Tree Model
// is shared under a single mutex").
type Tree struct {
	mu sync.Mutex

	Root       string
	whitelist  []*regexp.Regexp
	extensions map[string]struct{}
	nodes      map[string]*Node
}

// New compiles the whitelist patterns and normalizes the extension list.
// An empty whitelist matches every directory unconditionally, per
// SPEC_FULL.md §4.1.
func New(root string, whitelistPatterns, fileExtensions []string) (*Tree, error) {
	whitelist := make([]*regexp.Regexp, 0, len(whitelistPatterns))

	for _, p := range whitelistPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}

		whitelist = append(whitelist, re)
	}

	exts := make(map[string]struct{}, len(fileExtensions))
	for _, e := range fileExtensions {
		exts[normalizeExt(e)] = struct{}{}
	}

	return &Tree{
		Root:       filepath.Clean(root),
		whitelist:  whitelist,
		extensions: exts,
		nodes:      make(map[string]*Node),
	}, nil
}

// normalizeExt reduces "*.mp3", ".mp3", and "mp3" to the same canonical
// lowercase form "mp3", per SPEC_FULL.md §4.1's equivalence rule.
func normalizeExt(e string) string {
	e = strings.ToLower(e)
	e = strings.TrimPrefix(e, "*")
	e = strings.TrimPrefix(e, ".")

	return e
}

// MatchesExtension reports whether path's extension matches the
// configured file_extensions, case-insensitively.
func (t *Tree) MatchesExtension(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := t.extensions[ext]

	return ok
}

// IsSMBTempPath reports whether any path segment carries the SMB
// temporary-file marker. Such paths are discarded everywhere in Event
// Ingest, never surfacing as events.
func IsSMBTempPath(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(seg, smbTempMarker) {
			return true
		}
	}

	return false
}

// matchesWhitelist reports whether path satisfies the folder whitelist.
// An empty whitelist always matches.
func (t *Tree) matchesWhitelist(path string) bool {
	if len(t.whitelist) == 0 {
		return true
	}

	for _, re := range t.whitelist {
		if re.MatchString(path) {
			return true
		}
	}

	return false
}

// Build performs a full filesystem scan rooted at t.Root, replacing the
// in-memory node set. Directories are added as nodes only when they
// satisfy the whitelist; files are recorded only when their extension
// matches. SMB temp paths are skipped entirely.
func (t *Tree) Build() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodes := make(map[string]*Node)

	err := filepath.WalkDir(t.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if IsSMBTempPath(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if path != t.Root && !t.matchesWhitelist(path) {
				return nil
			}

			nodes[path] = newNode(path)

			return nil
		}

		if t.MatchesExtension(path) {
			parent := filepath.Dir(path)
			if n, ok := nodes[parent]; ok {
				n.Tracks[path] = struct{}{}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	for path, n := range nodes {
		parent := filepath.Dir(path)
		if parent == path {
			continue
		}

		if pn, ok := nodes[parent]; ok {
			pn.Children[path] = struct{}{}
		}
	}

	t.nodes = nodes

	return nil
}

// FolderForPath returns the nearest ancestor of p that is either an
// existing node or a directory the whitelist allows, walking up from p's
// parent directory. Returns "", false if no such ancestor lies under Root.
func (t *Tree) FolderForPath(p string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.folderForPathLocked(p)
}

func (t *Tree) folderForPathLocked(p string) (string, bool) {
	dir := filepath.Dir(p)

	for {
		if !isUnder(t.Root, dir) && dir != t.Root {
			return "", false
		}

		if _, ok := t.nodes[dir]; ok {
			return dir, true
		}

		if t.matchesWhitelist(dir) {
			return dir, true
		}

		if dir == t.Root {
			return "", false
		}

		dir = filepath.Dir(dir)
	}
}

func isUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// EnsureNode returns the node for folder, creating it (and registering it
// as a child of its parent, if the parent is itself a node) if absent.
func (t *Tree) EnsureNode(folder string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ensureNodeLocked(folder)
}

func (t *Tree) ensureNodeLocked(folder string) *Node {
	if n, ok := t.nodes[folder]; ok {
		return n
	}

	n := newNode(folder)
	t.nodes[folder] = n

	parent := filepath.Dir(folder)
	if parent != folder {
		if pn, ok := t.nodes[parent]; ok {
			pn.Children[folder] = struct{}{}
		}
	}

	return n
}

// RemoveNode deletes folder's node and unlinks it from its parent's
// children set.
func (t *Tree) RemoveNode(folder string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.nodes, folder)

	parent := filepath.Dir(folder)
	if pn, ok := t.nodes[parent]; ok {
		delete(pn.Children, folder)
	}
}

// AddTrack records path as a track of its owning folder node, creating
// the node if necessary.
func (t *Tree) AddTrack(folder, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.ensureNodeLocked(folder)
	n.Tracks[path] = struct{}{}
}

// RemoveTrack removes path from folder's track set, if present.
func (t *Tree) RemoveTrack(folder, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.nodes[folder]; ok {
		delete(n.Tracks, path)
	}
}

// NodeExists reports whether folder is a known tree node.
func (t *Tree) NodeExists(folder string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.nodes[folder]

	return ok
}

// RelativeKey converts an absolute path under Root to a playlist key
// (forward-slash separated path relative to Root), per SPEC_FULL.md §3.
func (t *Tree) RelativeKey(absPath string) (string, error) {
	rel, err := filepath.Rel(t.Root, absPath)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(rel), nil
}

// AllNodePaths returns every known node's path, for callers that need to
// walk the whole tree (e.g. Nightly Reconcile).
func (t *Tree) AllNodePaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.nodes))
	for p := range t.nodes {
		out = append(out, p)
	}

	return out
}

// NodeSnapshot returns a copy of a node's track set (absolute paths), or
// nil if the node does not exist.
func (t *Tree) NodeSnapshot(folder string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[folder]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(n.Tracks))
	for p := range n.Tracks {
		out = append(out, p)
	}

	return out
}
