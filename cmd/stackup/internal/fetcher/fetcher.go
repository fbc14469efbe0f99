// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetcher keeps a sparse checkout of a dependency stack's source
// in sync with its upstream repository.
//
// An update applies the upstream diff to tracked files inside the sparse
// paths: files changed upstream are overwritten and files deleted
// upstream are removed. Untracked files, such as the copied environment
// file and bind-mounted volume data, are never touched. The environment
// file is copied in after every fetch.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/stackup/cmd/stackup/internal/util"
	"github.com/AleutianAI/stackup/pkg/logging"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// ErrFetch is returned when no usable checkout could be produced.
var ErrFetch = errors.New("dependency fetch failed")

// Outcome is what EnsurePresent did.
type Outcome string

const (
	// OutcomeCloned means a fresh clone was made.
	OutcomeCloned Outcome = "cloned"

	// OutcomeUpdated means the existing checkout moved to a newer commit.
	OutcomeUpdated Outcome = "updated"

	// OutcomeReused means the existing checkout was kept as is, either
	// because it was current or because the update failed.
	OutcomeReused Outcome = "reused"
)

// Source describes the upstream repository and the local checkout.
type Source struct {
	// RepoURL is anything go-git can clone (https URL or local path).
	RepoURL string

	// Ref is the branch to track.
	Ref string

	// SparsePaths limits the checkout to these directories.
	SparsePaths []string

	// Dir is the local checkout directory.
	Dir string

	// Depth limits history; 0 fetches full history.
	Depth int
}

// Result reports the checkout location and what happened.
type Result struct {
	// Path is the absolute checkout directory.
	Path string

	Outcome Outcome

	// Quarantined is where an invalid pre-existing directory was moved,
	// empty if none.
	Quarantined string

	// UpdateErr is the non-fatal update failure behind OutcomeReused.
	UpdateErr error
}

// Fetcher clones and updates dependency checkouts with go-git.
type Fetcher struct {
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Fetcher. A nil logger discards output.
func New(logger *logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Fetcher{logger: logger, now: time.Now}
}

// EnsurePresent makes src.Dir a valid sparse checkout of src.Ref.
//
// # Description
//
//   - Dir absent: clone with NoCheckout (shallow and single-branch when
//     Depth > 0), then check out only SparsePaths. A failed clone removes
//     the partial directory and returns ErrFetch.
//   - Dir a valid checkout: fetch Ref and fast-forward the tracked files
//     under SparsePaths to it, leaving untracked files in place. Any
//     failure is logged and the existing copy is reused.
//   - Dir present but invalid: rename it to "<dir>.partial-<unix-ts>"
//     and clone as if it were absent.
//
// A checkout is valid when Dir is itself a repository root (parent
// repositories are not searched), HEAD resolves, and every sparse path
// exists.
//
// # Outputs
//
//   - Result: Path and Outcome
//   - error: Wraps ErrFetch
func (f *Fetcher) EnsurePresent(ctx context.Context, src Source) (Result, error) {
	if src.RepoURL == "" || src.Ref == "" || src.Dir == "" {
		return Result{}, fmt.Errorf("%w: repo URL, ref and dir are required", ErrFetch)
	}
	abs, err := filepath.Abs(src.Dir)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	src.Dir = abs
	result := Result{Path: abs}

	_, statErr := os.Stat(abs)
	switch {
	case statErr == nil:
		repo, vErr := f.validate(src)
		if vErr == nil {
			outcome, uErr := f.update(ctx, repo, src)
			if uErr != nil {
				f.logger.Warn("dependency update failed, reusing existing checkout",
					"dir", abs, "ref", src.Ref, "error", uErr)
				result.UpdateErr = uErr
			}
			result.Outcome = outcome
			return result, nil
		}
		quarantine := fmt.Sprintf("%s.partial-%d", abs, f.now().Unix())
		f.logger.Warn("existing dependency directory is not a valid checkout, moving it aside",
			"dir", abs, "moved_to", quarantine, "reason", vErr)
		if err := os.Rename(abs, quarantine); err != nil {
			return result, fmt.Errorf("%w: cannot move invalid checkout aside: %w", ErrFetch, err)
		}
		result.Quarantined = quarantine
	case !os.IsNotExist(statErr):
		return result, fmt.Errorf("%w: %w", ErrFetch, statErr)
	}

	if err := f.clone(ctx, src); err != nil {
		if rmErr := os.RemoveAll(abs); rmErr != nil {
			f.logger.Warn("cannot remove partial clone", "dir", abs, "error", rmErr)
		}
		return result, fmt.Errorf("%w: clone %s@%s: %w", ErrFetch, src.RepoURL, src.Ref, err)
	}
	result.Outcome = OutcomeCloned
	f.logger.Info("dependency cloned", "repo", src.RepoURL, "ref", src.Ref, "dir", abs)
	return result, nil
}

func (f *Fetcher) validate(src Source) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(src.Dir, &git.PlainOpenOptions{DetectDotGit: false})
	if err != nil {
		return nil, fmt.Errorf("not a repository: %w", err)
	}
	if _, err := repo.Head(); err != nil {
		return nil, fmt.Errorf("HEAD does not resolve: %w", err)
	}
	for _, p := range src.SparsePaths {
		if _, err := os.Stat(filepath.Join(src.Dir, p)); err != nil {
			return nil, fmt.Errorf("sparse path %s missing: %w", p, err)
		}
	}
	return repo, nil
}

func (f *Fetcher) clone(ctx context.Context, src Source) error {
	branch := plumbing.NewBranchReferenceName(src.Ref)
	repo, err := git.PlainCloneContext(ctx, src.Dir, false, &git.CloneOptions{
		URL:           src.RepoURL,
		ReferenceName: branch,
		SingleBranch:  true,
		Depth:         src.Depth,
		NoCheckout:    true,
		Tags:          git.NoTags,
	})
	if err != nil {
		return err
	}
	return checkout(repo, branch, src.SparsePaths)
}

func (f *Fetcher) update(ctx context.Context, repo *git.Repository, src Source) (Outcome, error) {
	branch := plumbing.NewBranchReferenceName(src.Ref)
	remote := plumbing.NewRemoteReferenceName(git.DefaultRemoteName, src.Ref)
	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s", branch, remote))

	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Depth:      src.Depth,
		Tags:       git.NoTags,
		Force:      true,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return OutcomeReused, nil
	}
	if err != nil {
		return OutcomeReused, fmt.Errorf("fetch: %w", err)
	}

	upstream, err := repo.Reference(remote, true)
	if err != nil {
		return OutcomeReused, fmt.Errorf("resolve %s: %w", remote, err)
	}
	head, err := repo.Head()
	if err != nil {
		return OutcomeReused, fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Hash() == upstream.Hash() {
		return OutcomeReused, nil
	}

	if err := applyUpstream(repo, head.Hash(), upstream.Hash(), src); err != nil {
		return OutcomeReused, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return OutcomeReused, fmt.Errorf("worktree: %w", err)
	}
	// MixedReset moves the branch and rebuilds the index without
	// touching the working tree.
	if err := wt.ResetSparsely(&git.ResetOptions{
		Commit: upstream.Hash(),
		Mode:   git.MixedReset,
	}, src.SparsePaths); err != nil {
		return OutcomeReused, fmt.Errorf("reset %s: %w", branch.Short(), err)
	}
	f.logger.Info("dependency updated", "dir", src.Dir, "ref", src.Ref, "commit", upstream.Hash().String()[:12])
	return OutcomeUpdated, nil
}

func checkout(repo *git.Repository, branch plumbing.ReferenceName, sparse []string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch:                    branch,
		SparseCheckoutDirectories: sparse,
	}); err != nil {
		return fmt.Errorf("checkout %s: %w", branch.Short(), err)
	}
	return nil
}

// applyUpstream writes the tree diff between two commits to the working
// tree, limited to the sparse paths. go-git's own worktree reset also
// deletes untracked files, so it is only used on a fresh clone.
func applyUpstream(repo *git.Repository, from, to plumbing.Hash, src Source) error {
	oldTree, err := commitTree(repo, from)
	if err != nil {
		return err
	}
	newTree, err := commitTree(repo, to)
	if err != nil {
		return err
	}
	changes, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return fmt.Errorf("diff %s..%s: %w", from.String()[:12], to.String()[:12], err)
	}

	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return err
		}
		name := ch.To.Name
		if action == merkletrie.Delete {
			name = ch.From.Name
		}
		if !inSparse(name, src.SparsePaths) {
			continue
		}
		path := filepath.Join(src.Dir, filepath.FromSlash(name))

		if action == merkletrie.Delete {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", name, err)
			}
			continue
		}
		_, file, err := ch.Files()
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if file == nil {
			// Submodule.
			continue
		}
		if err := writeBlob(path, file); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func commitTree(repo *git.Repository, h plumbing.Hash) (*object.Tree, error) {
	c, err := repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", h.String()[:12], err)
	}
	t, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", h.String()[:12], err)
	}
	return t, nil
}

func writeBlob(path string, file *object.File) error {
	content, err := file.Contents()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if file.Mode == filemode.Symlink {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(content, path)
	}
	perm := os.FileMode(0644)
	if file.Mode == filemode.Executable {
		perm = 0755
	}
	return util.WriteFileAtomic(path, []byte(content), perm)
}

// inSparse reports whether a slash-separated repository path lies under
// one of dirs. No dirs means everything is checked out.
func inSparse(name string, dirs []string) bool {
	if len(dirs) == 0 {
		return true
	}
	for _, d := range dirs {
		d = strings.Trim(filepath.ToSlash(d), "/")
		if name == d || strings.HasPrefix(name, d+"/") {
			return true
		}
	}
	return false
}

// CopyEnv copies the environment file into the dependency checkout.
//
// # Description
//
// The destination is written atomically with mode 0600, since it holds
// the deployment's secrets. Its parent directory must exist (it is part
// of the sparse checkout).
func CopyEnv(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrFetch, src, err)
	}
	if err := util.WriteFileAtomic(dst, data, 0600); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return nil
}

// CopyEnv is the method form of the package function, so the orchestrator
// can depend on one interface.
func (f *Fetcher) CopyEnv(src, dst string) error {
	if err := CopyEnv(src, dst); err != nil {
		return err
	}
	f.logger.Debug("environment copied", "to", dst)
	return nil
}
