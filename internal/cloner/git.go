package cloner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// Git runs a git subcommand in dir. When stdout is nil the output is only
// kept for the error message.
type Git interface {
	Run(ctx context.Context, dir string, env []string, stdout io.Writer, args ...string) error
}

// ExecGit shells out to the git binary on PATH.
type ExecGit struct{}

func (ExecGit) Run(ctx context.Context, dir string, env []string, stdout io.Writer, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var output bytes.Buffer
	cmd.Stderr = &output
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = &output
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, lastLines(output.String(), 5))
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

var refPattern = regexp.MustCompile(`^(\w+)\s([\w/\-.]+)$`)

// ParseShowRef maps ref names to commit hashes from `git show-ref` output.
func ParseShowRef(r io.Reader) (map[string]string, error) {
	heads := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := refPattern.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		heads[m[2]] = m[1]
	}
	return heads, sc.Err()
}

// AddCredentialToURL embeds basic-auth credentials into an https clone URL.
func AddCredentialToURL(raw, username, password string) (string, error) {
	if username == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if password != "" {
		u.User = url.UserPassword(username, password)
	} else {
		u.User = url.User(username)
	}
	return u.String(), nil
}
