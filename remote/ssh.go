package remote

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ddr4869/fabctl/common/types"
)

// SSHOptions configures SSHDialer.
type SSHOptions struct {
	// Port is used for hosts without an explicit port.
	Port                  int
	Timeout               time.Duration
	KnownHosts            string
	InsecureIgnoreHostKey bool
}

// SSHDialer opens SSH connections with password or key authentication.
type SSHDialer struct {
	opts SSHOptions
}

func NewSSHDialer(opts SSHOptions) *SSHDialer {
	return &SSHDialer{opts: opts}
}

func (d *SSHDialer) Dial(ctx context.Context, host *types.Host) (Conn, error) {
	config, err := d.clientConfig(host)
	if err != nil {
		return nil, err
	}

	address := host.SSHAddress()
	if host.Port == 0 && d.opts.Port != 0 {
		address = net.JoinHostPort(host.Address, strconv.Itoa(d.opts.Port))
	}

	dialer := net.Dialer{Timeout: d.opts.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s", address)
	}
	_ = netConn.SetDeadline(time.Time{})

	return &sshConn{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

func (d *SSHDialer) clientConfig(host *types.Host) (*ssh.ClientConfig, error) {
	if host.User == "" {
		return nil, errors.Errorf("host<%s> login user must be provided", host.Address)
	}

	var auth []ssh.AuthMethod
	if host.KeyFile != "" {
		signer, err := loadSigner(host.KeyFile, host.Password)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if host.Password != "" {
		password := host.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, errors.Errorf("host<%s> login password or key must be provided", host.Address)
	}

	hostKeyCallback, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.opts.Timeout,
	}, nil
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := strings.TrimSpace(d.opts.KnownHosts)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load known hosts %s", path)
	}
	return callback, nil
}

func loadSigner(keyFile, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key %s", keyFile)
	}
	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse key %s", keyFile)
	}
	return signer, nil
}

type sshConn struct {
	client *ssh.Client

	sftpOnce sync.Once
	sftp     *sftp.Client
	sftpErr  error
}

func (c *sshConn) Exec(ctx context.Context, cmd string, stdin io.Reader) (*ExecResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(ErrBrokenConnection, err.Error())
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	if err := session.Start(cmd); err != nil {
		return nil, errors.Wrap(err, "failed to start command")
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// Wait returns once the output copiers have stopped writing.
		<-done
		return &ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitStatus: -1}, ctx.Err()
	case err := <-done:
		res := &ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
			return res, nil
		}
		res.ExitStatus = -1
		return res, errors.Wrap(ErrBrokenConnection, err.Error())
	}
}

func (c *sshConn) sftpClient() (*sftp.Client, error) {
	c.sftpOnce.Do(func() {
		c.sftp, c.sftpErr = sftp.NewClient(c.client)
	})
	if c.sftpErr != nil {
		return nil, errors.Wrap(c.sftpErr, "failed to start sftp")
	}
	return c.sftp, nil
}

func (c *sshConn) Upload(ctx context.Context, local, remote string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	src, err := os.Open(local)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", local)
	}
	defer src.Close()

	dst, err := client.Create(remote)
	if err != nil {
		return errors.Wrapf(err, "failed to create remote %s", remote)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "failed to close remote %s", remote)
		}
	}()

	if _, err := dst.ReadFrom(src); err != nil {
		return errors.Wrapf(err, "failed to upload %s", local)
	}
	return nil
}

func (c *sshConn) Download(ctx context.Context, remote, local string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	src, err := client.Open(remote)
	if err != nil {
		return errors.Wrapf(err, "failed to open remote %s", remote)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return errors.Wrap(err, "failed to create download directory")
	}
	dst, err := os.Create(local)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", local)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "failed to close %s", local)
		}
	}()

	if _, err := src.WriteTo(dst); err != nil {
		return errors.Wrapf(err, "failed to download %s", remote)
	}
	return nil
}

func (c *sshConn) Close() error {
	if c.sftp != nil {
		_ = c.sftp.Close()
	}
	return c.client.Close()
}
