// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ExecResult is the outcome of a remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs a command somewhere and reports its outcome.
//
// A nonzero exit status is reported through ExecResult.ExitCode, not as an
// error. Errors are reserved for transport failures.
type Executor interface {
	Run(ctx context.Context, command string) (ExecResult, error)
}

// SSHCommand runs a command through an Executor.
type SSHCommand struct {
	Command  string
	Executor Executor
}

// NewSSHCommand returns a producer running command on exec.
func NewSSHCommand(command string, exec Executor) *SSHCommand {
	return &SSHCommand{Command: command, Executor: exec}
}

// Produce runs the command and returns its stdout.
func (s *SSHCommand) Produce(ctx context.Context) (any, error) {
	if s.Command == "" {
		return nil, ErrEmptyCommand
	}
	if s.Executor == nil {
		return nil, ErrNilExecutor
	}

	res, err := s.Executor.Run(ctx, s.Command)
	if err != nil {
		return nil, &CommandError{Command: s.Command, ExitCode: -1, Stderr: res.Stderr, Err: err}
	}
	if err := checkResult(s.Command, res); err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// -----------------------------------------------------------------------------
// SSH Connection
// -----------------------------------------------------------------------------

var (
	// ErrInvalidSSHConfig indicates an incomplete SSH configuration.
	ErrInvalidSSHConfig = errors.New("invalid ssh config")
)

// SSHConfig configures an SSHConnection.
type SSHConfig struct {
	// Host is "host" or "host:port". Port 22 is assumed when omitted.
	Host string `yaml:"host" validate:"required"`

	// User is the remote login.
	User string `yaml:"user"`

	// KeyFile is the path of the private key used for authentication.
	KeyFile string `yaml:"key_file" validate:"required"`

	// KnownHostsFile verifies the server key. Required unless
	// InsecureIgnoreHostKey is set.
	KnownHostsFile string `yaml:"known_hosts_file"`

	// InsecureIgnoreHostKey skips server key verification. Only for
	// throwaway test guests.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key"`

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration `yaml:"-"`

	// DialAttempts is the number of connection attempts before giving up.
	DialAttempts uint `yaml:"dial_attempts"`
}

// DefaultSSHConfig returns the defaults for guest connections.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		User:         "root",
		DialTimeout:  10 * time.Second,
		DialAttempts: 3,
	}
}

// SSHConnection is an Executor backed by one lazily dialed SSH client.
//
// Each Run opens a new session on the shared client.
//
// Thread Safety: Safe for concurrent use.
type SSHConnection struct {
	cfg    SSHConfig
	addr   string
	client *ssh.ClientConfig

	mu   sync.Mutex
	conn *ssh.Client
}

// NewSSHConnection validates cfg and loads credentials. It does not dial.
func NewSSHConnection(cfg SSHConfig) (*SSHConnection, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidSSHConfig)
	}
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("%w: key file is required", ErrInvalidSSHConfig)
	}
	if cfg.KnownHostsFile == "" && !cfg.InsecureIgnoreHostKey {
		return nil, fmt.Errorf("%w: known hosts file is required unless host key checking is disabled", ErrInvalidSSHConfig)
	}

	defaults := DefaultSSHConfig()
	if cfg.User == "" {
		cfg.User = defaults.User
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = defaults.DialAttempts
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !cfg.InsecureIgnoreHostKey {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	return &SSHConnection{
		cfg:  cfg,
		addr: addr,
		client: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

// Addr returns the dialed address.
func (c *SSHConnection) Addr() string {
	return c.addr
}

func (c *SSHConnection) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := backoff.Retry(ctx, func() (*ssh.Client, error) {
		return ssh.Dial("tcp", c.addr, c.client)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.DialAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.addr, err)
	}
	c.conn = conn
	return conn, nil
}

// Run implements Executor.
//
// Cancelling ctx sends SIGKILL to the remote command and closes the session.
func (c *SSHConnection) Run(ctx context.Context, command string) (ExecResult, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}

	session, err := conn.NewSession()
	if err != nil {
		return ExecResult{ExitCode: -1}, fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return ExecResult{ExitCode: -1}, ctx.Err()
	case err = <-done:
	}

	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
			return res, fmt.Errorf("running ssh command: %w", err)
		}
		res.ExitCode = exitErr.ExitStatus()
	}
	return res, nil
}

// Close closes the underlying client if it was dialed.
func (c *SSHConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

var (
	_ Producer = (*SSHCommand)(nil)
	_ Executor = (*SSHConnection)(nil)
)
