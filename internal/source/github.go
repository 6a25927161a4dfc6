package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/traceguard/internal/cache"
	"github.com/ppiankov/traceguard/internal/logging"
	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/util"
	"github.com/ppiankov/traceguard/internal/worker"
)

const maxResponseBytes = 20 << 20

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// APIError is a non-2xx response from the source host
type APIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// GitHub is a Client for the GitHub REST API (and GitHub Enterprise)
type GitHub struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	limiter    *worker.Limiter
	cache      cache.Cache
	batchSize  int
	sleep      sleepFunc
	logger     *zap.Logger
}

// NewGitHub creates a GitHub client from configuration
func NewGitHub(cfg model.SourceConfig, c cache.Cache, logger *zap.Logger) *GitHub {
	if c == nil {
		c = cache.Nop{}
	}
	batch := cfg.FetchBatchSize
	if batch <= 0 {
		batch = 10
	}

	return &GitHub{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		limiter:   worker.NewLimiter(cfg.RequestsPerSecond, cfg.BurstSize),
		cache:     c,
		batchSize: batch,
		sleep:     sleepContext,
		logger:    logging.Component(logger, "source.github"),
	}
}

// LatestRevision resolves a branch name (or returns a full commit sha unchanged)
func (g *GitHub) LatestRevision(ctx context.Context, repo Repo, ref string) (string, error) {
	if shaPattern.MatchString(ref) {
		return ref, nil
	}

	refPath := strings.TrimPrefix(ref, "refs/")
	if !strings.HasPrefix(refPath, "heads/") && !strings.HasPrefix(refPath, "tags/") {
		refPath = "heads/" + refPath
	}

	var resp struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := g.getJSON(ctx, g.repoURL(repo, "git/ref/"+refPath), &resp); err != nil {
		return "", fmt.Errorf("resolve ref %s: %w", ref, err)
	}
	if resp.Object.SHA == "" {
		return "", fmt.Errorf("resolve ref %s: empty object sha", ref)
	}
	return resp.Object.SHA, nil
}

// RevisionMetadata returns the commit's tree id and message
func (g *GitHub) RevisionMetadata(ctx context.Context, repo Repo, rev string) (*Revision, error) {
	var resp struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
		Tree    struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := g.getJSON(ctx, g.repoURL(repo, "git/commits/"+url.PathEscape(rev)), &resp); err != nil {
		return nil, fmt.Errorf("get commit %s: %w", rev, err)
	}
	return &Revision{ID: rev, TreeID: resp.Tree.SHA, Message: resp.Message}, nil
}

// ListTree lists a git tree. A truncated listing is an error: treating
// missing entries as deletions would corrupt the fingerprint state.
func (g *GitHub) ListTree(ctx context.Context, repo Repo, treeID string, recursive bool) ([]TreeEntry, error) {
	u := g.repoURL(repo, "git/trees/"+url.PathEscape(treeID))
	if recursive {
		u += "?recursive=1"
	}

	var resp struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	if err := g.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("list tree %s: %w", treeID, err)
	}
	if resp.Truncated {
		return nil, fmt.Errorf("list tree %s: listing truncated by host", treeID)
	}
	return resp.Tree, nil
}

// FetchMany fetches file contents at rev with bounded parallelism.
// Failed files are logged and omitted; results keep the order of paths.
func (g *GitHub) FetchMany(ctx context.Context, repo Repo, paths []string, rev string) ([]Blob, error) {
	fetched := make([]*Blob, len(paths))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.batchSize)

	for i, p := range paths {
		eg.Go(func() error {
			blob, err := g.fetchOne(egCtx, repo, p, rev)
			if err != nil {
				g.logger.Warn("fetch failed, skipping file",
					zap.String("repository", repo.String()),
					zap.String("path", p),
					zap.Error(err))
				return nil
			}
			fetched[i] = blob
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch files: %w", err)
	}

	out := make([]Blob, 0, len(paths))
	for _, b := range fetched {
		if b != nil {
			out = append(out, *b)
		}
	}
	return out, nil
}

type cachedBlob struct {
	Content   []byte `json:"content"`
	ContentID string `json:"content_id"`
}

func (g *GitHub) fetchOne(ctx context.Context, repo Repo, path, rev string) (*Blob, error) {
	key := cache.ContentKey(repo.String(), rev, path)
	if raw, ok := g.cache.Get(key); ok {
		var cb cachedBlob
		if err := json.Unmarshal(raw, &cb); err == nil {
			return &Blob{Path: path, Content: cb.Content, ContentID: cb.ContentID}, nil
		}
	}

	u := g.repoURL(repo, "contents/"+escapePath(path)) + "?ref=" + url.QueryEscape(rev)

	var resp struct {
		SHA      string `json:"sha"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := g.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Encoding)
	}
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	if raw, err := json.Marshal(cachedBlob{Content: content, ContentID: resp.SHA}); err == nil {
		if err := g.cache.Put(key, raw); err != nil {
			g.logger.Debug("cache write failed", zap.String("path", path), zap.Error(err))
		}
	}

	return &Blob{Path: path, Content: content, ContentID: resp.SHA}, nil
}

func (g *GitHub) repoURL(repo Repo, suffix string) string {
	return fmt.Sprintf("%s/repos/%s/%s/%s", g.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), suffix)
}

// getJSON performs a GET, retrying transient failures
func (g *GitHub) getJSON(ctx context.Context, rawURL string, dest any) error {
	return withRetry(ctx, g.sleep, func() error {
		return g.getOnce(ctx, rawURL, dest)
	})
}

func (g *GitHub) getOnce(ctx context.Context, rawURL string, dest any) error {
	if err := g.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	g.logger.Debug("source request",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, URL: rawURL}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil {
			apiErr.Message = msg.Message
		}
		if reset, ok := quotaReset(resp, time.Now()); ok {
			g.limiter.Pause(req.URL.Host, reset)
			g.logger.Warn("source quota exhausted",
				zap.String("host", req.URL.Host),
				zap.Time("resume", reset))
		}
		return apiErr
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

var _ Client = (*GitHub)(nil)

// quotaReset reads when an exhausted quota resets, from Retry-After on
// 429 or X-RateLimit-Reset when X-RateLimit-Remaining is 0
func quotaReset(resp *http.Response, now time.Time) (time.Time, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return time.Time{}, false
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second), true
		}
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return time.Time{}, false
	}
	epoch, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(epoch, 0), true
}
