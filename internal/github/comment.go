// Package github posts the compression report as a pull request comment.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v74/github"
	"github.com/sirupsen/logrus"

	"image-compressor/internal/config"
	"image-compressor/internal/logger"
)

// Comment identifies the pull request and the text to post on it.
type Comment struct {
	Owner  string
	Repo   string
	Number int
	Body   string
}

// Port posts a comment on a pull request. Callers treat failures as non-fatal.
type Port interface {
	PostComment(ctx context.Context, c Comment) error
}

// CommentError is returned when the API answered with anything but 201 Created.
type CommentError struct {
	StatusCode int
	Body       string
}

func (e *CommentError) Error() string {
	return fmt.Sprintf("comment rejected with status %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	Token      string
	APIURL     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// OptionsFromConfig maps the github section of the configuration.
func OptionsFromConfig(cfg config.GitHubConfig) Options {
	return Options{
		Token:      cfg.Token,
		APIURL:     cfg.APIURL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}
}

// Client implements Port on top of the GitHub REST API.
type Client struct {
	api        *gogithub.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     logrus.FieldLogger
	sleep      func(context.Context, time.Duration) error
}

// NewClient builds a Client. An empty APIURL keeps the public GitHub endpoint.
func NewClient(opts Options, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logger.Discard()
	}
	api := gogithub.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		api = api.WithAuthToken(opts.Token)
	}
	if opts.APIURL != "" {
		base := opts.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("%w: api url %q: %v", config.ErrInvalidInput, opts.APIURL, err)
		}
		api.BaseURL = u
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Client{
		api:        api,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     log,
		sleep:      sleepContext,
	}, nil
}

// PostComment creates an issue comment on the pull request. Transport errors,
// 429 and 5xx responses are retried with exponential backoff up to MaxRetries
// times; any other status fails immediately.
func (c *Client) PostComment(ctx context.Context, cm Comment) error {
	log := logger.WithOperation(c.logger, "post_comment").WithFields(logrus.Fields{
		"repo":      cm.Owner + "/" + cm.Repo,
		"pr_number": cm.Number,
	})

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.WithError(lastErr).Warnf("Retrying comment (attempt %d/%d) in %s", attempt, c.maxRetries, delay)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		err := c.post(ctx, cm)
		if err == nil {
			log.Info("Comment posted successfully")
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, cm Comment) error {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	_, resp, err := c.api.Issues.CreateComment(attemptCtx, cm.Owner, cm.Repo, cm.Number, &gogithub.IssueComment{
		Body: gogithub.Ptr(cm.Body),
	})
	if err != nil {
		var errResp *gogithub.ErrorResponse
		var rateErr *gogithub.RateLimitError
		var abuseErr *gogithub.AbuseRateLimitError
		switch {
		case errors.As(err, &errResp) && errResp.Response != nil:
			return &CommentError{StatusCode: errResp.Response.StatusCode, Body: errResp.Message}
		case errors.As(err, &rateErr) && rateErr.Response != nil:
			return &CommentError{StatusCode: rateErr.Response.StatusCode, Body: rateErr.Message}
		case errors.As(err, &abuseErr) && abuseErr.Response != nil:
			return &CommentError{StatusCode: abuseErr.Response.StatusCode, Body: abuseErr.Message}
		}
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return &CommentError{StatusCode: resp.StatusCode, Body: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// retryable reports whether a failed attempt may succeed when repeated.
func retryable(err error) bool {
	var ce *CommentError
	if errors.As(err, &ce) {
		return ce.StatusCode == http.StatusTooManyRequests || ce.StatusCode >= 500
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
