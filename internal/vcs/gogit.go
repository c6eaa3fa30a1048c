package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/sirupsen/logrus"

	"image-compressor/internal/logger"
)

// tokenUser is the username GitHub accepts alongside a token for HTTPS pushes.
const tokenUser = "x-access-token"

// GoGitOptions configures a GoGitClient.
type GoGitOptions struct {
	Dir         string
	Token       string
	AuthorName  string
	AuthorEmail string
	Timeout     time.Duration
}

// GoGitClient implements Port with go-git, without a git binary for the local steps.
type GoGitClient struct {
	opts   GoGitOptions
	logger logrus.FieldLogger
}

// NewGoGitClient returns a go-git backed Port.
func NewGoGitClient(opts GoGitOptions, log logrus.FieldLogger) *GoGitClient {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if log == nil {
		log = logger.Discard()
	}
	return &GoGitClient{opts: opts, logger: log}
}

// Publish creates the branch from HEAD keeping local changes, stages everything
// under the work dir, commits and pushes with upstream tracking.
func (g *GoGitClient) Publish(ctx context.Context, req PublishRequest) error {
	repo, err := git.PlainOpenWithOptions(g.opts.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return &Error{Step: StepBranch, Err: fmt.Errorf("open repo: %w", err)}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return &Error{Step: StepBranch, Err: fmt.Errorf("open worktree: %w", err)}
	}

	ref := plumbing.NewBranchReferenceName(req.Branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: true, Keep: true}); err != nil {
		return &Error{Step: StepBranch, Err: err}
	}

	if err := g.stage(wt); err != nil {
		return &Error{Step: StepStage, Err: err}
	}

	commitOpts := &git.CommitOptions{}
	if g.opts.AuthorName != "" && g.opts.AuthorEmail != "" {
		commitOpts.Author = &object.Signature{
			Name:  g.opts.AuthorName,
			Email: g.opts.AuthorEmail,
			When:  time.Now(),
		}
	}
	hash, err := wt.Commit(req.Message, commitOpts)
	if err != nil {
		return &Error{Step: StepCommit, Err: err}
	}
	logger.WithOperation(g.logger, "git_commit").Debugf("Created commit %s", hash)

	if err := g.push(ctx, repo, ref, req.Remote); err != nil {
		return &Error{Step: StepPush, Err: err}
	}

	err = repo.CreateBranch(&gitconfig.Branch{Name: req.Branch, Remote: req.Remote, Merge: ref})
	if err != nil && !errors.Is(err, git.ErrBranchExists) {
		return &Error{Step: StepPush, Err: fmt.Errorf("set upstream: %w", err)}
	}
	return nil
}

// stage adds every change below the work dir, like `git add .` run there.
func (g *GoGitClient) stage(wt *git.Worktree) error {
	root := wt.Filesystem.Root()
	dir, err := filepath.Abs(g.opts.Dir)
	if err != nil {
		return err
	}
	// Compare resolved paths; temp dirs are often reached through symlinks.
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return err
	}
	if rel == "." {
		return wt.AddWithOptions(&git.AddOptions{All: true})
	}
	return wt.AddWithOptions(&git.AddOptions{Path: filepath.ToSlash(rel)})
}

func (g *GoGitClient) push(ctx context.Context, repo *git.Repository, ref plumbing.ReferenceName, remoteName string) error {
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return fmt.Errorf("remote %s: %w", remoteName, err)
	}

	var auth transport.AuthMethod
	if urls := remote.Config().URLs; g.opts.Token != "" && len(urls) > 0 && strings.HasPrefix(urls[0], "http") {
		auth = &githttp.BasicAuth{Username: tokenUser, Password: g.opts.Token}
	}

	pushCtx, cancel := stepContext(ctx, g.opts.Timeout)
	defer cancel()

	err = repo.PushContext(pushCtx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref.String() + ":" + ref.String())},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}
