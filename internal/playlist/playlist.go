// Package playlist implements the local M3U file reader/writer named as
// an external collaborator in SPEC_FULL.md §1, grounded on
// original_source/src/playlist.rs. It never talks to a Provider; the
// Debouncer and Nightly Reconcile call it to keep local .m3u files in
// sync with the filesystem, and the Reconciler reads the result back as
// its desired-set input.
package playlist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalPath expands template with folderName/pathToParent (empty for a
// folder's own playlist file) and joins it onto folder. It only builds
// the path; nothing is written.
func LocalPath(folder, template, folderName string) string {
	name := strings.NewReplacer(
		"${folder_name}", folderName,
		"${path_to_parent}", "",
		"${relative_path}", folderName,
	).Replace(template)

	return filepath.Join(folder, name)
}

// WriteFlat writes a flat M3U playlist at playlistPath listing every file
// under targetFolder (recursively) whose extension matches extMatch,
// ordered per orderMode ("sync_order" sorts by modification time
// ascending; anything else, including "append", sorts alphabetically).
func WriteFlat(targetFolder, playlistPath, orderMode string, extMatch func(path string) bool) error {
	var files []string

	err := filepath.WalkDir(targetFolder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if extMatch(path) {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("playlist: walk %s: %w", targetFolder, err)
	}

	if orderMode == "sync_order" {
		sort.SliceStable(files, func(i, j int) bool {
			return modTime(files[i]).Before(modTime(files[j]))
		})
	} else {
		sort.Strings(files)
	}

	return writeAtomic(playlistPath, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintln(w, "#EXTM3U"); err != nil {
			return err
		}

		for _, f := range files {
			rel, err := filepath.Rel(targetFolder, f)
			if err != nil {
				rel = f
			}

			if _, err := fmt.Fprintf(w, "#EXTINF:-1,%s\n", filepath.Base(f)); err != nil {
				return err
			}

			if _, err := fmt.Fprintln(w, rel); err != nil {
				return err
			}
		}

		return nil
	})
}

// WriteLinked writes a playlist listing each direct child folder's own
// playlist file, one path per line, per SPEC_FULL.md §9's resolution of
// the linked-mode Open Question. referenceFormat selects "relative"
// (default) or "absolute" paths.
func WriteLinked(targetFolder, playlistPath, referenceFormat, localPlaylistTemplate string) error {
	entries, err := os.ReadDir(targetFolder)
	if err != nil {
		return fmt.Errorf("playlist: read dir %s: %w", targetFolder, err)
	}

	var children []string

	for _, e := range entries {
		if e.IsDir() {
			children = append(children, filepath.Join(targetFolder, e.Name()))
		}
	}

	sort.Strings(children)

	return writeAtomic(playlistPath, func(w *bufio.Writer) error {
		for _, child := range children {
			childName := LocalPath(child, localPlaylistTemplate, filepath.Base(child))

			line := childName
			if referenceFormat != "absolute" {
				if rel, err := filepath.Rel(targetFolder, childName); err == nil {
					line = rel
				}
			}

			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}

		return nil
	})
}

// Read parses playlistPath and returns the absolute paths of every track
// entry, in file order, de-duplicated while preserving first occurrence
// (SPEC_FULL.md §4.6's desired-set de-duplication rule). Lines beginning
// with "#" are metadata and skipped.
func Read(playlistPath string) ([]string, error) {
	f, err := os.Open(playlistPath)
	if err != nil {
		return nil, fmt.Errorf("playlist: open %s: %w", playlistPath, err)
	}
	defer f.Close()

	dir := filepath.Dir(playlistPath)

	seen := make(map[string]struct{})

	var out []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		abs := line
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(dir, line)
		}

		if _, ok := seen[abs]; ok {
			continue
		}

		seen[abs] = struct{}{}
		out = append(out, abs)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("playlist: scan %s: %w", playlistPath, err)
	}

	return out, nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}

	return info.ModTime()
}

// writeAtomic writes to a temp file in playlistPath's directory, then
// renames it over the target, avoiding partially-written playlists being
// observed by the engine's own Tree Model scan or a provider's local
// client mid-write.
func writeAtomic(playlistPath string, fn func(w *bufio.Writer) error) error {
	dir := filepath.Dir(playlistPath)

	tmp, err := os.CreateTemp(dir, ".musicsync-playlist-*.tmp")
	if err != nil {
		return fmt.Errorf("playlist: create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	if err := fn(w); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("playlist: flush %s: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("playlist: close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, playlistPath); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("playlist: rename %s -> %s: %w", tmpPath, playlistPath, err)
	}

	return nil
}
