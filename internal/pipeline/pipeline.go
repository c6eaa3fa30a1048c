// Package pipeline runs one compression job end to end: scan, report,
// publish the branch and comment on the pull request.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"image-compressor/internal/config"
	"image-compressor/internal/github"
	"image-compressor/internal/logger"
	"image-compressor/internal/report"
	"image-compressor/internal/scanner"
	"image-compressor/internal/vcs"
)

// Outcome summarizes a finished run.
type Outcome struct {
	Results    *scanner.ResultSet
	Report     string
	Published  bool
	Commented  bool
	CommentErr error
	Elapsed    time.Duration
}

// Pipeline wires the scanner to the report writer and the external collaborators.
type Pipeline struct {
	cfg      *config.Config
	scanner  *scanner.Scanner
	vcs      vcs.Port
	comments github.Port
	logger   logrus.FieldLogger
	out      io.Writer
	now      func() time.Time
}

// New returns a Pipeline. out receives the operator messages and the report;
// nil means stdout.
func New(cfg *config.Config, sc *scanner.Scanner, vcsPort vcs.Port, commentPort github.Port, log logrus.FieldLogger, out io.Writer) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Pipeline{
		cfg:      cfg,
		scanner:  sc,
		vcs:      vcsPort,
		comments: commentPort,
		logger:   log,
		out:      out,
		now:      time.Now,
	}
}

// Run executes the job. Scan and version control failures are returned;
// a failed comment is logged, printed and kept in the Outcome.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	log := logger.WithRun(p.logger)
	start := p.now()
	outcome := &Outcome{}

	log.WithFields(logrus.Fields{
		"directory":  p.cfg.Directory,
		"quality":    p.cfg.Quality,
		"file_types": p.cfg.FileTypes,
		"on_error":   p.cfg.OnError,
	}).Info("Starting compression run")
	fmt.Fprintln(p.out, "Compressing images...")

	set, err := p.scanner.Scan(ctx, p.cfg.Directory, scanner.Options{
		Quality:    p.cfg.Quality,
		Extensions: p.cfg.FileTypes,
		Policy:     scanner.FailurePolicy(p.cfg.OnError),
	})
	p.scanner.Stats().Finalize()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.cfg.Directory, err)
	}
	outcome.Results = set

	if set.Empty() {
		if len(set.Failures) == 0 {
			log.Info("No image files found to compress")
			fmt.Fprintln(p.out, "No image files found to compress.")
			return p.finish(outcome, start, log), nil
		}
		log.WithField("files_failed", len(set.Failures)).Warn("Every matching image failed to compress")
		fmt.Fprintf(p.out, "No images were compressed: all %d matching files failed.\n", len(set.Failures))
		fmt.Fprint(p.out, report.Format(set))
		return p.finish(outcome, start, log), nil
	}

	fmt.Fprintln(p.out, "Compression complete. Generating report...")
	outcome.Report = report.Format(set)
	fmt.Fprintln(p.out, outcome.Report)

	if err := report.Save(p.cfg.Report.Path, outcome.Report); err != nil {
		return outcome, fmt.Errorf("save report: %w", err)
	}
	fmt.Fprintf(p.out, "Report saved to '%s'\n", p.cfg.Report.Path)

	if err := p.vcs.Publish(ctx, vcs.PublishRequest{
		Branch:  p.cfg.Git.Branch,
		Message: p.cfg.Git.CommitMessage,
		Remote:  p.cfg.Git.Remote,
	}); err != nil {
		log.WithError(err).Error("Publishing branch failed")
		return outcome, err
	}
	outcome.Published = true
	log.WithField("branch", p.cfg.Git.Branch).Info("Branch pushed")

	err = p.comments.PostComment(ctx, github.Comment{
		Owner:  p.cfg.GitHub.RepoOwner,
		Repo:   p.cfg.GitHub.RepoName,
		Number: p.cfg.GitHub.PRNumber,
		Body:   outcome.Report,
	})
	if err != nil {
		outcome.CommentErr = err
		log.WithError(err).Warn("Posting pull request comment failed")
		fmt.Fprintf(p.out, "Failed to post comment: %v\n", err)
	} else {
		outcome.Commented = true
		fmt.Fprintln(p.out, "Comment posted successfully.")
	}

	return p.finish(outcome, start, log), nil
}

func (p *Pipeline) finish(outcome *Outcome, start time.Time, log logrus.FieldLogger) *Outcome {
	outcome.Elapsed = p.now().Sub(start)
	stats := p.scanner.Stats()
	log.WithFields(logrus.Fields{
		"files_compressed": stats.FilesCompressed,
		"files_failed":     stats.FilesFailed,
		"bytes_saved":      stats.SpaceSaved(),
		"elapsed":          outcome.Elapsed.String(),
	}).Info("Compression run finished")
	fmt.Fprintf(p.out, "Process completed in %.2f seconds.\n", outcome.Elapsed.Seconds())
	return outcome
}
