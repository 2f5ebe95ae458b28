package remote

import (
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/ehrlich-b/gangway/internal/hosts"
	"github.com/ehrlich-b/gangway/internal/logger"
)

// defaultIdentityNames are tried, in order, when the host config names no
// identity file.
var defaultIdentityNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// authMethods builds the authentication chain: explicit identity files
// from host config, then the common default identity names, then a
// running SSH agent, then the interactive password when one has been
// supplied.
func authMethods(params hosts.Params, password string) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	var signers []ssh.Signer
	for _, path := range params.IdentityFiles {
		if s := loadSigner(path); s != nil {
			signers = append(signers, s)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range defaultIdentityNames {
			if s := loadSigner(filepath.Join(home, ".ssh", name)); s != nil {
				signers = append(signers, s)
			}
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			logger.Debug("ssh agent unreachable", "sock", sock, "err", err)
		}
	}

	if password != "" {
		methods = append(methods, ssh.Password(password))
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}))
	}

	return methods
}

// loadSigner reads and parses one private key file. Missing or
// unparseable files are skipped silently; the chain just gets shorter.
func loadSigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		logger.Debug("skipping identity file", "path", path, "err", err)
		return nil
	}
	return signer
}

// isAuthError reports whether an ssh handshake error is an
// authentication rejection as opposed to a transport failure. The ssh
// package does not export a sentinel for this, so the error text is the
// only signal available.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}
