// Package source provides clients that list and fetch files from
// version-controlled repositories.
package source

import (
	"context"
	"fmt"
	"strings"
)

// Client is the source-repository boundary consumed by the scan pipeline
type Client interface {
	// LatestRevision resolves ref (branch or tag) to a revision id
	LatestRevision(ctx context.Context, repo Repo, ref string) (string, error)

	// RevisionMetadata returns the tree id and message of a revision
	RevisionMetadata(ctx context.Context, repo Repo, rev string) (*Revision, error)

	// ListTree lists the entries of a tree, descending into subtrees when recursive
	ListTree(ctx context.Context, repo Repo, treeID string, recursive bool) ([]TreeEntry, error)

	// FetchMany fetches file contents at rev. It is best-effort: files that
	// cannot be fetched are omitted from the result rather than failing the call.
	FetchMany(ctx context.Context, repo Repo, paths []string, rev string) ([]Blob, error)
}

// Repo identifies a repository on the source host
type Repo struct {
	Owner string
	Name  string
}

// String returns owner/name
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo parses an owner/name slug
func ParseRepo(slug string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.Trim(slug, "/"), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository slug %q: expected owner/name", slug)
	}
	return Repo{Owner: owner, Name: name}, nil
}

// Revision describes one commit
type Revision struct {
	ID      string
	TreeID  string
	Message string
}

// Entry types reported by ListTree
const (
	EntryBlob = "blob"
	EntryTree = "tree"
)

// TreeEntry is one item of a tree listing
type TreeEntry struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	ContentID string `json:"sha"`
	Size      int64  `json:"size,omitempty"`
}

// Blob is fetched file content
type Blob struct {
	Path      string
	Content   []byte
	ContentID string
}
