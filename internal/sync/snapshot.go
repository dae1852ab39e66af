package sync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ncaanext/texsync/internal/texpath"
)

// localEntry is one managed file discovered under the local root, keyed
// by canonical path in the snapshot map.
type localEntry struct {
	// hash is the git blob SHA-1, or "" when hashing was skipped or the
	// file could not be read (treated as differing).
	hash     string
	disabled bool
}

// remoteSnapshot maps canonical path to blob sha for the managed
// subtree at the given commit. The remote tree never contains the
// customs folder, but hidden bookkeeping files (.gitkeep and friends)
// are filtered out the same way local ones are.
func (e *Engine) remoteSnapshot(ctx context.Context, commit string) (map[string]string, error) {
	tree, err := e.client.ListTree(ctx, commit, e.cfg.Repo.SparsePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote tree: %w", err)
	}

	files := make(map[string]string, len(tree))
	for path, sha := range tree {
		if e.codec.Classify(path).Class != texpath.ClassManaged {
			continue
		}
		files[path] = sha
	}
	return files, nil
}

// localSnapshot walks the managed root and maps canonical path to local
// entry. Content hashes are computed only when hashContent is set; the
// incremental planner never needs them. A file that cannot be read is
// recorded with an empty hash so it compares as differing rather than
// silently dropping out of the snapshot.
func (e *Engine) localSnapshot(hashContent bool) (map[string]localEntry, error) {
	root := e.cfg.Root()
	entries := make(map[string]localEntry)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		cls := e.codec.Classify(filepath.ToSlash(rel))

		if d.IsDir() {
			if cls.Class != texpath.ClassManaged {
				return filepath.SkipDir
			}
			return nil
		}
		if cls.Class != texpath.ClassManaged {
			return nil
		}

		entry := localEntry{disabled: cls.Disabled}
		if hashContent {
			hash, err := gitBlobSHA(path)
			if err != nil {
				e.logger.Warn("failed to hash local file, treating as differing",
					"path", rel, "error", err)
			} else {
				entry.hash = hash
			}
		}

		// When both the enabled and disabled variant exist on disk, the
		// enabled copy is the one the emulator sees; it wins.
		if prev, ok := entries[cls.Canonical]; ok && !prev.disabled {
			return nil
		}
		entries[cls.Canonical] = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan local files: %w", err)
	}

	return entries, nil
}

// findLocal checks whether a canonical path exists on disk in either
// representation. It stats at most two paths and never reads content.
func (e *Engine) findLocal(canonical string) (exists, disabled bool) {
	root := e.cfg.Root()
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(canonical))); err == nil {
		return true, false
	}
	disabledRel := e.codec.DisabledVariant(canonical)
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(disabledRel))); err == nil {
		return true, true
	}
	return false, false
}

// gitBlobSHA computes the git blob object id for a file, which is what
// the remote tree listing reports per file. Git stores text with LF
// endings, so text content is normalized before hashing; binary content
// (anything with a null byte in the first 8 KiB) is hashed as-is.
func gitBlobSHA(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	if isTextContent(content) {
		content = normalizeLineEndings(content)
	}

	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isTextContent(content []byte) bool {
	n := len(content)
	if n > 8192 {
		n = 8192
	}
	for _, b := range content[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}

// normalizeLineEndings converts CRLF and bare CR to LF.
func normalizeLineEndings(content []byte) []byte {
	out := make([]byte, 0, len(content))
	for i := 0; i < len(content); i++ {
		if content[i] == '\r' {
			out = append(out, '\n')
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
			continue
		}
		out = append(out, content[i])
	}
	return out
}
