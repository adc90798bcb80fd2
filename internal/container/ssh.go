package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/nace/lxkit/internal/system"
)

// RemoteShell runs a command on a container over the network.
type RemoteShell interface {
	Exec(ctx context.Context, addr, command string, liveStream bool) (system.Result, error)
}

type sshResult struct {
	stdout   string
	stderr   string
	exitCode int
}

func (r *sshResult) Stdout() string { return r.stdout }
func (r *sshResult) Stderr() string { return r.stderr }
func (r *sshResult) ExitCode() int  { return r.exitCode }
func (r *sshResult) Success() bool  { return r.exitCode == 0 }

// SSHShell is the ssh implementation of RemoteShell. Host keys are not
// verified: container keys are regenerated on every clone.
type SSHShell struct {
	cfg SSHConfig
}

// NewSSHShell creates an ssh backend.
func NewSSHShell(cfg SSHConfig) *SSHShell {
	return &SSHShell{cfg: cfg}
}

func (s *SSHShell) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.cfg.KeyFile != "" {
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %s: %w", s.cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, system.InvalidArgument("ssh requires a key file or a password")
	}
	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.Timeout,
	}, nil
}

// Exec runs command on addr and waits for it to finish.
func (s *SSHShell) Exec(ctx context.Context, addr, command string, liveStream bool) (system.Result, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	hostport := net.JoinHostPort(addr, strconv.Itoa(s.cfg.Port))
	line := fmt.Sprintf("ssh %s@%s %s", s.cfg.User, hostport, command)

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, &system.CommandError{Line: line, Err: err}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostport, config)
	if err != nil {
		conn.Close()
		return nil, &system.CommandError{Line: line, Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &system.CommandError{Line: line, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	if liveStream {
		session.Stdout = io.MultiWriter(&stdout, os.Stdout)
		session.Stderr = io.MultiWriter(&stderr, os.Stderr)
	} else {
		session.Stdout = &stdout
		session.Stderr = &stderr
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &sshResult{stdout: stdout.String(), stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitStatus()
	} else {
		res.exitCode = -1
	}
	return res, &system.CommandError{Line: line, Result: res, Err: err}
}
