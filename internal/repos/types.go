package repos

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Kind is the transport a repository URL uses.
type Kind string

const (
	KindSSH   Kind = "ssh"
	KindHTTPS Kind = "https"
)

var (
	sshPattern   = regexp.MustCompile(`^\w+@[\w.]+:[\w-]+/[\w\-+]+\.git$`)
	httpsPattern = regexp.MustCompile(`^https://(\w+@\w+)?[\w./\-+]*\.git$`)
)

var (
	ErrIllegalRepo        = errors.New("illegal repo")
	ErrSSHKeyRequired     = errors.New("ssh_key must be provided")
	ErrInvalidSSHKey      = errors.New("ssh_key is not a valid private key")
	ErrEncryptedSSHKey    = errors.New("ssh_key must not be passphrase protected")
	ErrHTTPSCredsRequired = errors.New("username and password must be provided")
	ErrRepoNotFound       = errors.New("repo not found")
)

// KindOf classifies a repository URL. Only scp-style ssh URLs and https
// URLs ending in .git are accepted.
func KindOf(repo string) (Kind, bool) {
	repo = strings.TrimSpace(repo)
	switch {
	case sshPattern.MatchString(repo):
		return KindSSH, true
	case httpsPattern.MatchString(repo):
		return KindHTTPS, true
	default:
		return "", false
	}
}

// Credential is what the cloner needs to reach a repository.
type Credential struct {
	ID        string
	Repo      string
	SSHKey    string
	Username  string
	Password  string
	CreatedAt time.Time
}

type CreateRequest struct {
	Repo     string `json:"repo"`
	SSHKey   string `json:"ssh_key,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Validate checks that the credential fits the repo transport and returns
// the normalised credential to store.
func (r CreateRequest) Validate() (Credential, error) {
	repo := strings.TrimSpace(r.Repo)
	kind, ok := KindOf(repo)
	if !ok {
		return Credential{}, ErrIllegalRepo
	}

	switch kind {
	case KindSSH:
		if strings.TrimSpace(r.SSHKey) == "" {
			return Credential{}, ErrSSHKeyRequired
		}
		if _, err := ssh.ParsePrivateKey([]byte(r.SSHKey)); err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				return Credential{}, ErrEncryptedSSHKey
			}
			return Credential{}, ErrInvalidSSHKey
		}
		return Credential{Repo: repo, SSHKey: r.SSHKey}, nil
	default:
		if r.Username == "" || r.Password == "" {
			return Credential{}, ErrHTTPSCredsRequired
		}
		return Credential{Repo: repo, Username: r.Username, Password: r.Password}, nil
	}
}

// Summary is the listing shape; secrets never leave the server.
type Summary struct {
	ID   string `json:"id"`
	Repo string `json:"repo"`
}

type ListResponse struct {
	Page     int       `json:"page"`
	Total    int       `json:"total"`
	PageSize int       `json:"pageSize"`
	Data     []Summary `json:"data"`
}
