package vcs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"image-compressor/internal/logger"
)

// ExecClient implements Port using the git binary.
type ExecClient struct {
	r       Runner
	dir     string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewExecClient returns a client running gitBin in dir with a per-step timeout.
func NewExecClient(gitBin, dir string, timeout time.Duration, log logrus.FieldLogger) *ExecClient {
	if log == nil {
		log = logger.Discard()
	}
	return &ExecClient{r: newGitBinary(gitBin), dir: dir, timeout: timeout, logger: log}
}

// Publish runs checkout -b, add ., commit and push -u in order.
func (c *ExecClient) Publish(ctx context.Context, req PublishRequest) error {
	steps := []struct {
		name string
		args []string
	}{
		{StepBranch, []string{"checkout", "-b", req.Branch}},
		{StepStage, []string{"add", "."}},
		{StepCommit, []string{"commit", "-m", req.Message}},
		{StepPush, []string{"push", "-u", req.Remote, req.Branch}},
	}

	for _, step := range steps {
		if err := c.run(ctx, step.name, step.args...); err != nil {
			return err
		}
	}
	return nil
}

func (c *ExecClient) run(ctx context.Context, step string, args ...string) error {
	stepCtx, cancel := stepContext(ctx, c.timeout)
	defer cancel()

	logger.WithOperation(c.logger, "git_"+step).Debug("Running git step")
	if _, err := c.r.Run(stepCtx, c.dir, args...); err != nil {
		return &Error{Step: step, Err: err}
	}
	return nil
}
