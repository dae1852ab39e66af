package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// treeResponse is the git trees API payload.
type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// fetchTree retrieves a single tree object, optionally recursively.
func (c *HTTPClient) fetchTree(ctx context.Context, sha string, recursive bool) (*treeResponse, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s", c.apiBase, c.owner, c.repo, sha)
	if recursive {
		url += "?recursive=1"
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tree %s: %w", sha, err)
	}

	var resp treeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse tree response: %w", err)
	}
	return &resp, nil
}

// subtreeSHA walks the tree path component by component to locate the
// subtree object, so the recursive listing never has to cover the whole
// repository.
func (c *HTTPClient) subtreeSHA(ctx context.Context, rootSHA, subpath string) (string, error) {
	current := rootSHA
	for _, part := range strings.Split(subpath, "/") {
		tree, err := c.fetchTree(ctx, current, false)
		if err != nil {
			return "", err
		}

		found := ""
		for _, entry := range tree.Tree {
			if entry.Path == part && entry.Type == "tree" {
				found = entry.SHA
				break
			}
		}
		if found == "" {
			return "", fmt.Errorf("path component %q not found in repository tree", part)
		}
		current = found
	}
	return current, nil
}

// ListTree returns path -> blob sha for every file under subpath at the
// given commit. Paths in the result are relative to subpath.
func (c *HTTPClient) ListTree(ctx context.Context, commit, subpath string) (map[string]string, error) {
	root := commit
	if subpath != "" {
		sha, err := c.subtreeSHA(ctx, commit, subpath)
		if err != nil {
			return nil, err
		}
		root = sha
	}

	files := make(map[string]string)
	if err := c.collectTreeFiles(ctx, root, "", files); err != nil {
		return nil, err
	}

	c.logger.Debug("listed remote tree", "commit", commit, "subpath", subpath, "files", len(files))
	return files, nil
}

// collectTreeFiles gathers blob entries below a tree. A truncated
// recursive listing falls back to per-directory descent so no entries
// are silently dropped.
func (c *HTTPClient) collectTreeFiles(ctx context.Context, sha, base string, files map[string]string) error {
	tree, err := c.fetchTree(ctx, sha, true)
	if err != nil {
		return err
	}

	if !tree.Truncated {
		for _, entry := range tree.Tree {
			if entry.Type == "blob" {
				files[joinTreePath(base, entry.Path)] = entry.SHA
			}
		}
		return nil
	}

	shallow, err := c.fetchTree(ctx, sha, false)
	if err != nil {
		return err
	}
	for _, entry := range shallow.Tree {
		path := joinTreePath(base, entry.Path)
		switch entry.Type {
		case "blob":
			files[path] = entry.SHA
		case "tree":
			if err := c.collectTreeFiles(ctx, entry.SHA, path, files); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinTreePath(base, path string) string {
	if base == "" {
		return path
	}
	return base + "/" + path
}
