package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// Runner runs git with args in dir and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError is a failed git invocation. Output is what git printed, with
// credentials masked.
type CommandError struct {
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%v)", e.Output, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// gitBinary runs a git executable without a terminal.
type gitBinary string

func newGitBinary(path string) gitBinary {
	if strings.TrimSpace(path) == "" {
		return "git"
	}
	return gitBinary(path)
}

func (g gitBinary) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, string(g), args...)
	cmd.Dir = dir
	// A push that needs credentials fails instead of waiting on a prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	output := strings.TrimSpace(stderr.String())
	if output == "" {
		output = strings.TrimSpace(stdout.String())
	}
	return "", &CommandError{Output: maskCredentials(output), Err: err}
}

var (
	urlUserinfo = regexp.MustCompile(`(https?://)[^\s/@]+@`)
	secretValue = regexp.MustCompile(`(?i)\b(token|password|secret)=\S+`)
)

// maskCredentials hides URL userinfo and key=value secrets in git output.
func maskCredentials(s string) string {
	s = urlUserinfo.ReplaceAllString(s, "${1}***@")
	return secretValue.ReplaceAllString(s, "${1}=***")
}
