package repos

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"testing"

	"golang.org/x/crypto/ssh"
)

func testPrivateKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "deploy")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "deploy", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(block))
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		repo string
		kind Kind
		ok   bool
	}{
		{repo: "git@github.com:naturali/tensorflow.git", kind: KindSSH, ok: true},
		{repo: "  git@gitlab.example.com:team/my-repo.git ", kind: KindSSH, ok: true},
		{repo: "https://github.com/comzyh/TF_Docker_Images.git", kind: KindHTTPS, ok: true},
		{repo: "https://git.example.com/group/sub/project.git", kind: KindHTTPS, ok: true},
		{repo: "http://github.com/comzyh/TF_Docker_Images.git"},
		{repo: "git@github.com:naturali/tensorflow"},
		{repo: "ftp://example.com/repo.git"},
		{repo: ""},
	}
	for _, tc := range tests {
		kind, ok := KindOf(tc.repo)
		if kind != tc.kind || ok != tc.ok {
			t.Fatalf("KindOf(%q) = %q, %v; want %q, %v", tc.repo, kind, ok, tc.kind, tc.ok)
		}
	}
}

func TestCreateRequestValidate(t *testing.T) {
	t.Parallel()
	key := testPrivateKey(t, "")
	encrypted := testPrivateKey(t, "hunter2")

	tests := []struct {
		name string
		req  CreateRequest
		err  error
	}{
		{name: "ssh with key", req: CreateRequest{Repo: "git@github.com:org/repo.git", SSHKey: key}},
		{name: "ssh without key", req: CreateRequest{Repo: "git@github.com:org/repo.git"}, err: ErrSSHKeyRequired},
		{name: "ssh garbage key", req: CreateRequest{Repo: "git@github.com:org/repo.git", SSHKey: "not a key"}, err: ErrInvalidSSHKey},
		{name: "ssh encrypted key", req: CreateRequest{Repo: "git@github.com:org/repo.git", SSHKey: encrypted}, err: ErrEncryptedSSHKey},
		{name: "https with creds", req: CreateRequest{Repo: "https://github.com/org/repo.git", Username: "u", Password: "p"}},
		{name: "https missing password", req: CreateRequest{Repo: "https://github.com/org/repo.git", Username: "u"}, err: ErrHTTPSCredsRequired},
		{name: "illegal", req: CreateRequest{Repo: "svn://example.com/repo"}, err: ErrIllegalRepo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cred, err := tc.req.Validate()
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v got %v", tc.err, err)
			}
			if tc.err == nil && cred.Repo == "" {
				t.Fatal("expected normalised repo")
			}
		})
	}
}
