// Package ssh delivers certificate material over SSH. Data is streamed to a
// remote "cat" and actions run as remote commands; no SFTP subsystem is
// needed on the host.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/hosts"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/internal/secure"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/secretstore"
)

// Type is the discriminator ssh clients register under
const Type = "ssh"

const defaultTimeout = 15 * time.Second

// Config configures an ssh client. Credentials are secret addresses looked
// up through the host's key getter, never literal values.
type Config struct {
	User string `mapstructure:"user" validate:"required"`
	// Host overrides the host record's address
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	PasswordSecret string `mapstructure:"password_secret" validate:"required_without=KeySecret"`
	KeySecret      string `mapstructure:"key_secret"`
	// KeyPassphraseSecret unlocks an encrypted private key
	KeyPassphraseSecret string `mapstructure:"key_passphrase_secret"`

	KnownHosts            string `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`

	// Sudo runs writes and actions through "sudo -n"
	Sudo    bool          `mapstructure:"sudo"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Conn runs commands on a connected host
type Conn interface {
	Run(ctx context.Context, command string, stdin []byte) (stdout, stderr []byte, err error)
	Close() error
}

// Dialer opens a connection to addr
type Dialer func(ctx context.Context, addr string, config *ssh.ClientConfig) (Conn, error)

// Client is one SSH connection, dialed on first use and reused afterwards
type Client struct {
	name    string
	cfg     Config
	addr    string
	keys    secretstore.KeyGetter
	dial    Dialer
	logger  *logging.Logger
	mu       sync.Mutex
	conn     Conn
	dialErr  error
	password *secure.Material
}

// New returns a constructor for ssh clients. A nil dialer uses TCP.
func New(dial Dialer) builder.Constructor[Config, hosts.Client] {
	if dial == nil {
		dial = DialTCP
	}
	return func(ctx context.Context, name string, cfg Config, deps builder.Deps) (hosts.Client, error) {
		host := cfg.Host
		if host == "" {
			host = deps.Host
		}
		if host == "" {
			return nil, qerrors.ValidationError{Field: "config.host", Message: "no host address configured"}
		}
		if deps.Keys == nil {
			return nil, fmt.Errorf("ssh client %s needs a key getter for its credentials", name)
		}
		port := cfg.Port
		if port == 0 {
			port = 22
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = defaultTimeout
		}
		return &Client{
			name:   name,
			cfg:    cfg,
			addr:   net.JoinHostPort(host, strconv.Itoa(port)),
			keys:   deps.Keys,
			dial:   dial,
			logger: deps.Log(),
		}, nil
	}
}

// Register adds the ssh client type to r
func Register(r *builder.Registry[hosts.Client], dial Dialer) {
	builder.Register(r, Type, New(dial))
}

// Addr returns the host:port the client connects to
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) connect(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	if c.dialErr != nil {
		return nil, c.dialErr
	}

	config, err := c.clientConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Connecting to %s@%s", c.cfg.User, c.addr)
	conn, err := c.dial(ctx, c.addr, config)
	if err != nil {
		c.dialErr = qerrors.ConnectivityError{Op: "ssh connect", Target: c.addr, Err: err}
		return nil, c.dialErr
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) clientConfig(ctx context.Context) (*ssh.ClientConfig, error) {
	auth, err := c.authMethods(ctx)
	if err != nil {
		return nil, err
	}
	callback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: callback,
		Timeout:         c.cfg.Timeout,
	}, nil
}

func (c *Client) authMethods(ctx context.Context) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.cfg.KeySecret != "" {
		signer, err := c.signer(ctx)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.cfg.PasswordSecret != "" {
		password, err := c.keys.GetKey(ctx, c.cfg.PasswordSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ssh password: %w", err)
		}
		// held until Close
		if c.password != nil {
			c.password.Destroy()
		}
		sealed := secure.Seal(password)
		c.password = sealed
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			var secret string
			err := sealed.Use(func(plain []byte) error {
				secret = string(plain)
				return nil
			})
			return secret, err
		}))
	}
	return methods, nil
}

func (c *Client) signer(ctx context.Context) (ssh.Signer, error) {
	pemBytes, err := c.keys.GetKey(ctx, c.cfg.KeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ssh key: %w", err)
	}
	key := secure.Seal(pemBytes)
	defer key.Destroy()

	var passphrase *secure.Material
	if c.cfg.KeyPassphraseSecret != "" {
		raw, err := c.keys.GetKey(ctx, c.cfg.KeyPassphraseSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ssh key passphrase: %w", err)
		}
		passphrase = secure.Seal(raw)
		defer passphrase.Destroy()
	}

	var signer ssh.Signer
	err = key.Use(func(plain []byte) error {
		if passphrase == nil {
			signer, err = ssh.ParsePrivateKey(plain)
			return err
		}
		return passphrase.Use(func(phrase []byte) error {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(plain, phrase)
			return err
		})
	})
	if err != nil {
		return nil, qerrors.ValidationError{Field: "config.key_secret", Value: c.cfg.KeySecret, Message: "not a usable private key: " + err.Error()}
	}
	return signer, nil
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.InsecureIgnoreHostKey {
		c.logger.Warn("Host key checking is disabled for %s", c.addr)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	file := c.cfg.KnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(file)
	if err != nil {
		return nil, qerrors.ConfigError{
			Field:      "known_hosts",
			Value:      file,
			Message:    "cannot load known hosts",
			Suggestion: "Point known_hosts at an existing file or set insecure_ignore_host_key",
			Err:        err,
		}
	}
	return callback, nil
}

func (c *Client) run(ctx context.Context, command string, stdin []byte) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	stdout, stderr, err := conn.Run(ctx, command, stdin)
	if err == nil {
		if len(stdout) > 0 {
			c.logger.Debug("%s", stdout)
		}
		return nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		message := strings.TrimSpace(string(stderr))
		if message == "" {
			message = exitErr.Error()
		}
		return qerrors.CommandError{Command: command, ExitCode: exitErr.ExitStatus(), Message: message}
	}
	return qerrors.ConnectivityError{Op: "ssh run", Target: c.addr, Err: err}
}

func (c *Client) elevate(command string) string {
	if !c.cfg.Sudo {
		return command
	}
	return "sudo -n sh -c " + shellQuote(command)
}

func (c *Client) PutData(ctx context.Context, destination string, data []byte) error {
	c.logger.Debug("Sending %d bytes to %s:%s", len(data), c.addr, destination)
	command := c.elevate("cat > " + shellQuote(destination))
	if data == nil {
		data = []byte{}
	}
	return c.run(ctx, command, data)
}

func (c *Client) Action(ctx context.Context, command string) error {
	c.logger.Debug("Running '%s' on %s", command, c.addr)
	return c.run(ctx, c.elevate(command), nil)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.password != nil {
		c.password.Destroy()
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// shellQuote wraps s in single quotes for a POSIX shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// DialTCP connects over TCP and performs the SSH handshake
func DialTCP(ctx context.Context, addr string, config *ssh.ClientConfig) (Conn, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return &clientConn{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

type clientConn struct {
	client *ssh.Client
}

func (c *clientConn) Run(ctx context.Context, command string, stdin []byte) ([]byte, []byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// the session goroutine may still be writing to the buffers
		_ = session.Signal(ssh.SIGKILL)
		return nil, nil, ctx.Err()
	case err := <-done:
		return stdout.Bytes(), stderr.Bytes(), err
	}
}

func (c *clientConn) Close() error {
	return c.client.Close()
}
