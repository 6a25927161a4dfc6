package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local serves a working-tree directory as a repository.
// Content ids are git blob ids, so they match what a git host reports for
// the same bytes; the revision id is a digest of the whole listing.
type Local struct {
	root string
}

// NewLocal creates a client rooted at dir
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

// Root returns the served directory
func (l *Local) Root() string {
	return l.root
}

// LatestRevision digests the current listing; ref is ignored
func (l *Local) LatestRevision(ctx context.Context, _ Repo, _ string) (string, error) {
	entries, err := l.walk(ctx)
	if err != nil {
		return "", err
	}
	return listingDigest(entries), nil
}

// RevisionMetadata returns the revision itself as the tree id
func (l *Local) RevisionMetadata(_ context.Context, _ Repo, rev string) (*Revision, error) {
	return &Revision{ID: rev, TreeID: rev, Message: "working tree " + l.root}, nil
}

// ListTree walks the directory; treeID is informational only
func (l *Local) ListTree(ctx context.Context, _ Repo, _ string, recursive bool) ([]TreeEntry, error) {
	entries, err := l.walk(ctx)
	if err != nil {
		return nil, err
	}
	if recursive {
		return entries, nil
	}

	top := entries[:0]
	for _, e := range entries {
		if !strings.Contains(e.Path, "/") {
			top = append(top, e)
		}
	}
	return top, nil
}

// FetchMany reads files; unreadable or escaping paths are omitted
func (l *Local) FetchMany(ctx context.Context, _ Repo, paths []string, _ string) ([]Blob, error) {
	out := make([]Blob, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full, ok := l.resolve(p)
		if !ok {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		out = append(out, Blob{Path: p, Content: content, ContentID: BlobID(content)})
	}
	return out, nil
}

func (l *Local) resolve(p string) (string, bool) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(l.root, clean), true
}

func (l *Local) walk(ctx context.Context) ([]TreeEntry, error) {
	var entries []TreeEntry
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		entries = append(entries, TreeEntry{
			Path:      filepath.ToSlash(rel),
			Type:      EntryBlob,
			ContentID: BlobID(content),
			Size:      int64(len(content)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// BlobID computes the git blob object id of content
func BlobID(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func listingDigest(entries []TreeEntry) string {
	h := sha1.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s %s\n", e.ContentID, e.Path)
	}
	return hex.EncodeToString(h.Sum(nil))
}

var _ Client = (*Local)(nil)
