// Package vcs commits the compressed files to a new branch and pushes it.
package vcs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"image-compressor/internal/config"
)

// Publishing steps, in the order they run.
const (
	StepBranch = "branch"
	StepStage  = "stage"
	StepCommit = "commit"
	StepPush   = "push"
)

// PublishRequest describes the branch to create and push.
type PublishRequest struct {
	Branch  string
	Message string
	Remote  string
}

// Port creates a branch, stages every working-tree change, commits and pushes
// the branch with upstream tracking. A failed step stops the sequence; earlier
// steps are not rolled back.
type Port interface {
	Publish(ctx context.Context, req PublishRequest) error
}

// Error reports which step failed.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s failed: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns the Port selected by cfg.Backend. The token is only used by the
// go-git backend to authenticate HTTPS pushes.
func New(cfg config.GitConfig, token string, log logrus.FieldLogger) (Port, error) {
	switch cfg.Backend {
	case config.BackendExec, "":
		return NewExecClient(cfg.Binary, cfg.WorkDir, cfg.Timeout, log), nil
	case config.BackendGoGit:
		return NewGoGitClient(GoGitOptions{
			Dir:         cfg.WorkDir,
			Token:       token,
			AuthorName:  cfg.AuthorName,
			AuthorEmail: cfg.AuthorEmail,
			Timeout:     cfg.Timeout,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown git backend: %s", cfg.Backend)
	}
}

func stepContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
