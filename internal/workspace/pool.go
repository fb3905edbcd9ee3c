package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pooledWorktree is a pre-created worktree sitting at the integration
// branch tip, waiting to be rebranched for a specific issue.
type pooledWorktree struct {
	path      string
	createdAt time.Time
}

// Pool pre-creates worktrees at the integration branch tip so
// Acquire can rebranch an existing directory instead of paying full
// `git worktree add` latency on a level's critical path. Purely an
// optimization: correctness never depends on the pool being warm, and
// with an empty pool Acquire runs `git worktree add` itself.
type Pool struct {
	mgr  *Manager
	root string

	mu   sync.Mutex
	free []pooledWorktree
}

// NewPool constructs a Pool of worktrees rooted under
// artifactsRoot/worktree-pool.
func NewPool(mgr *Manager, artifactsRoot string) *Pool {
	return &Pool{mgr: mgr, root: filepath.Join(artifactsRoot, "worktree-pool")}
}

// Warm pre-creates up to size detached worktrees at integrationBranch's
// current tip. Errors creating any one entry are logged by the caller
// and otherwise ignored — a partially warmed pool still helps.
func (p *Pool) Warm(ctx context.Context, size int, integrationBranch string) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("create worktree pool root: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for i := len(p.free); i < size; i++ {
		path := filepath.Join(p.root, fmt.Sprintf("slot-%d-%d", i, time.Now().UnixNano()))
		if _, err := git(ctx, p.mgr.repoPath, "worktree", "add", "--detach", path, integrationBranch); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("warm pool slot %d: %w", i, err)
			}
			continue
		}
		p.free = append(p.free, pooledWorktree{path: path, createdAt: time.Now()})
	}
	return firstErr
}

// Acquire returns a pooled worktree rebranched to branch at
// integrationBranch's tip or, if the pool is empty, creates a fresh one
// on branch under the pool root with `git worktree add`.
func (p *Pool) Acquire(ctx context.Context, branch, integrationBranch string) (string, error) {
	p.mu.Lock()
	var wt pooledWorktree
	if len(p.free) > 0 {
		wt = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	}
	p.mu.Unlock()

	if wt.path == "" {
		path := filepath.Join(p.root, sanitize(branch)+fmt.Sprintf("-%d", time.Now().UnixNano()))
		if _, err := git(ctx, p.mgr.repoPath, "worktree", "add", "-B", branch, path, integrationBranch); err != nil {
			return "", fmt.Errorf("acquire (cold) worktree for branch %s: %w", branch, err)
		}
		return path, nil
	}

	if _, err := git(ctx, wt.path, "checkout", "-B", branch, integrationBranch); err != nil {
		return "", fmt.Errorf("rebranch pooled worktree for %s: %w", branch, err)
	}
	return wt.path, nil
}

// Release returns a worktree to the pool after resetting it to detached
// HEAD at integrationBranch, ready for the next Acquire. A worktree
// that fails to reset cleanly is discarded rather than pooled.
func (p *Pool) Release(ctx context.Context, path, integrationBranch string) {
	if _, err := git(ctx, path, "checkout", "--detach", integrationBranch); err != nil {
		_, _ = git(ctx, p.mgr.repoPath, "worktree", "remove", "--force", path)
		return
	}
	if _, err := git(ctx, path, "clean", "-fdx"); err != nil {
		_, _ = git(ctx, p.mgr.repoPath, "worktree", "remove", "--force", path)
		return
	}

	p.mu.Lock()
	p.free = append(p.free, pooledWorktree{path: path, createdAt: time.Now()})
	p.mu.Unlock()
}

// Close removes every pooled worktree, used on run teardown.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, wt := range free {
		_, _ = git(ctx, p.mgr.repoPath, "worktree", "remove", "--force", wt.path)
	}
}

// Size reports the number of idle worktrees currently pooled.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
