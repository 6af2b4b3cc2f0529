package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach a remote host for read-only probing.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string

	// KnownHosts is a known_hosts file used to verify the server key.
	// Empty disables verification.
	KnownHosts string
	Timeout    time.Duration
}

// SSHRunner runs commands on a remote host over one SSH connection.
type SSHRunner struct {
	client *ssh.Client
}

// DialSSH connects to the remote host.
func DialSSH(cfg SSHConfig) (*SSHRunner, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("ssh: load known hosts: %w", err)
		}
		hostKey = cb
	}

	config := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
		},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s: %w", addr, err)
	}
	return &SSHRunner{client: client}, nil
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}

// Run executes the command in a new session. The session is closed when
// ctx is cancelled.
func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := commandLine(name, args)
	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		return stdout.Bytes(), &CommandError{
			Command: name + " " + strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// LookPath resolves name on the remote host with `command -v`.
func (r *SSHRunner) LookPath(ctx context.Context, name string) (string, error) {
	out, err := r.Run(ctx, "sh", "-c", "command -v "+singleQuote(name))
	if err != nil {
		var ee *ssh.ExitError
		if errors.As(err, &ee) {
			return "", fmt.Errorf("%s: executable file not found in remote $PATH", name)
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
