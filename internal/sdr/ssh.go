package sdr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach a board whose iiod only listens on
// loopback.
type SSHConfig struct {
	Host       string
	User       string
	Password   string
	KeyPath    string
	KnownHosts string // known_hosts file; empty accepts any host key
	Port       int
	Timeout    time.Duration
}

// ParseSSHTarget parses "[user@]host[:port]".
func ParseSSHTarget(s string) (SSHConfig, error) {
	var cfg SSHConfig
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		cfg.User, s = s[:at], s[at+1:]
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host = strings.Trim(s, "[]")
	} else {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return cfg, fmt.Errorf("invalid ssh port %q", port)
		}
		cfg.Port = p
	}
	if host == "" {
		return cfg, errors.New("ssh host is required")
	}
	cfg.Host = host
	return cfg, nil
}

// SSHTunnel dials TCP connections from the far side of an SSH session.
type SSHTunnel struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHTunnel validates configuration and prepares a tunnel. The SSH session
// is established on the first Dial.
func NewSSHTunnel(cfg SSHConfig) (*SSHTunnel, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh host is required")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &SSHTunnel{cfg: cfg}, nil
}

// Dial opens addr as seen from the SSH server, e.g. "127.0.0.1:30431".
func (t *SSHTunnel) Dial(ctx context.Context, addr string) (net.Conn, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh forward to %s: %w", addr, err)
	}
	return conn, nil
}

// Close tears down the SSH session and every forwarded connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *SSHTunnel) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	config, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}

	t.client = ssh.NewClient(clientConn, chans, reqs)
	return t.client, nil
}

func (t *SSHTunnel) clientConfig() (*ssh.ClientConfig, error) {
	auth := []ssh.AuthMethod{}
	if t.cfg.Password != "" {
		auth = append(auth, ssh.Password(t.cfg.Password))
	}
	if t.cfg.KeyPath != "" {
		key, err := os.ReadFile(t.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh password or key configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if t.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(t.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         t.cfg.Timeout,
	}, nil
}
