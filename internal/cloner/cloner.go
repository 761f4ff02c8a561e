package cloner

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ktqueue/ktqueue/internal/repos"
	"github.com/rs/zerolog"
)

const DefaultBranch = "master"

var (
	ErrUnsupportedRepo = errors.New("unsupported repo url")
	ErrMissingSSHKey   = errors.New("no ssh credential stored for repo")
	ErrBranchNotFound  = errors.New("branch not found")
)

// CredentialSource looks up stored repository credentials.
type CredentialSource interface {
	Credential(ctx context.Context, repo string) (repos.Credential, error)
}

type Request struct {
	Repo   string
	Branch string
	Commit string
	Dest   string
}

// Cloner keeps one mirror per repo under <dataRoot>/repos and exports a
// single commit into a job's work directory.
type Cloner struct {
	reposDir string
	keysDir  string
	creds    CredentialSource
	git      Git
	logger   zerolog.Logger

	locks sync.Map
}

func New(dataRoot string, creds CredentialSource, git Git, logger zerolog.Logger) *Cloner {
	if git == nil {
		git = ExecGit{}
	}
	return &Cloner{
		reposDir: filepath.Join(dataRoot, "repos"),
		keysDir:  filepath.Join(os.TempDir(), "ktqueue", "ssh_keys"),
		creds:    creds,
		git:      git,
		logger:   logger,
	}
}

func repoHash(repo string) string {
	sum := sha1.Sum([]byte(repo))
	return hex.EncodeToString(sum[:])
}

// CloneAndCopy clones or fetches the repo, resolves the commit from the
// branch when none is given, and extracts that commit into req.Dest. It
// returns the commit that was exported.
func (c *Cloner) CloneAndCopy(ctx context.Context, req Request) (string, error) {
	repo := strings.TrimSpace(req.Repo)
	kind, ok := repos.KindOf(repo)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRepo, repo)
	}

	hash := repoHash(repo)
	mu, _ := c.locks.LoadOrStore(hash, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	cred, err := c.creds.Credential(ctx, repo)
	if err != nil && !errors.Is(err, repos.ErrRepoNotFound) {
		return "", fmt.Errorf("load credential: %w", err)
	}

	remote := repo
	var env []string
	switch kind {
	case repos.KindSSH:
		if cred.SSHKey == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingSSHKey, repo)
		}
		keyPath, err := c.writeKey(hash, cred.SSHKey)
		if err != nil {
			return "", err
		}
		env = append(env, "GIT_SSH_COMMAND=ssh -oStrictHostKeyChecking=no -i "+keyPath)
	case repos.KindHTTPS:
		remote, err = AddCredentialToURL(repo, cred.Username, cred.Password)
		if err != nil {
			return "", err
		}
		env = append(env, "GIT_TERMINAL_PROMPT=0")
	}

	if err := os.MkdirAll(c.reposDir, 0o755); err != nil {
		return "", err
	}
	repoPath := filepath.Join(c.reposDir, hash)
	if _, err := os.Stat(repoPath); os.IsNotExist(err) {
		c.logger.Info().Str("repo", repo).Msg("cloning repo")
		if err := c.git.Run(ctx, c.reposDir, env, nil, "clone", "--recursive", remote, hash); err != nil {
			return "", err
		}
	} else if err := c.git.Run(ctx, repoPath, env, nil, "fetch", remote, "+refs/heads/*:refs/remotes/origin/*"); err != nil {
		// a stale mirror can still serve commits it already has
		c.logger.Warn().Err(err).Str("repo", repo).Msg("fetch failed")
	}

	commit := req.Commit
	if commit == "" {
		branch := req.Branch
		if branch == "" {
			branch = DefaultBranch
		}
		var out bytes.Buffer
		if err := c.git.Run(ctx, repoPath, nil, &out, "show-ref"); err != nil {
			return "", err
		}
		heads, err := ParseShowRef(&out)
		if err != nil {
			return "", err
		}
		commit = heads["refs/remotes/origin/"+branch]
		if commit == "" {
			return "", fmt.Errorf("%w: %s in %s", ErrBranchNotFound, branch, repo)
		}
	}

	c.logger.Info().Str("repo", repo).Str("commit", commit).Str("dest", req.Dest).Msg("exporting commit")
	if err := c.export(ctx, repoPath, commit, req.Dest); err != nil {
		return "", err
	}
	return commit, nil
}

func (c *Cloner) export(ctx context.Context, repoPath, commit, dest string) error {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := ExtractTar(pr, dest)
		// drain so git never blocks on a full pipe after an extract error
		_, _ = io.Copy(io.Discard, pr)
		errCh <- err
	}()

	runErr := c.git.Run(ctx, repoPath, nil, pw, "archive", "--format=tar", commit)
	_ = pw.CloseWithError(runErr)
	extractErr := <-errCh
	if runErr != nil {
		return runErr
	}
	return extractErr
}

func (c *Cloner) writeKey(hash, key string) (string, error) {
	dir := filepath.Join(c.keysDir, hash)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "id")
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		return "", err
	}
	return path, nil
}
