package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPOptions configures an SFTPSink.
type SFTPOptions struct {
	Host           string
	Port           int
	User           string
	Password       string
	RemotePath     string
	KnownHostsFile string
	// ImageBaseURL, when set, is the public prefix written to cam.json instead of the file name.
	ImageBaseURL   string
}

// SFTPSink writes the image and a cam.json sidecar to a remote directory.
type SFTPSink struct {
	opts    SFTPOptions
	hostKey ssh.HostKeyCallback
	logger  *zap.Logger
}

// NewSFTPSink prepares the sink. Without a known_hosts file the host key is not verified.
func NewSFTPSink(opts SFTPOptions, logger *zap.Logger) (*SFTPSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	hostKey := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	} else {
		logger.Warn("sftp host key verification disabled", zap.String("host", opts.Host))
	}
	return &SFTPSink{opts: opts, hostKey: hostKey, logger: logger.Named("sftp")}, nil
}

func (s *SFTPSink) Name() string { return "sftp" }

func (s *SFTPSink) Put(ctx context.Context, p Payload) (Receipt, error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Receipt{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            s.opts.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.opts.Password)},
		HostKeyCallback: s.hostKey,
		Timeout:         10 * time.Second,
	})
	if err != nil {
		_ = conn.Close()
		return Receipt{}, classifySSH(fmt.Errorf("ssh handshake %s: %w", addr, err))
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return Receipt{}, fmt.Errorf("start sftp: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(s.opts.RemotePath); err != nil {
		return Receipt{}, classifyFS(fmt.Errorf("mkdir %s: %w", s.opts.RemotePath, err))
	}

	imagePath := path.Join(s.opts.RemotePath, p.Filename)
	if err := writeRemote(client, imagePath, p.Image); err != nil {
		return Receipt{}, classifyFS(err)
	}

	if !p.NoSidecar {
		meta, err := MarshalCamJSON(p, s.publicPath(p.Filename))
		if err != nil {
			return Receipt{}, markTerminal(fmt.Errorf("encode %s: %w", MetadataFilename, err))
		}
		if err := writeRemote(client, path.Join(s.opts.RemotePath, MetadataFilename), meta); err != nil {
			return Receipt{}, classifyFS(err)
		}
	}

	s.logger.Debug("sftp upload written", zap.String("path", imagePath), zap.Int("bytes", len(p.Image)))
	return Receipt{
		ID:         p.Filename,
		ReceivedAt: time.Now().UTC().Format(TimestampLayout),
		SizeBytes:  int64(len(p.Image)),
		Path:       imagePath,
	}, nil
}

func (s *SFTPSink) publicPath(name string) string {
	if s.opts.ImageBaseURL == "" {
		return name
	}
	return strings.TrimRight(s.opts.ImageBaseURL, "/") + "/" + name
}

func writeRemote(client *sftp.Client, name string, data []byte) error {
	f, err := client.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// classifySSH marks authentication and host key failures as terminal.
func classifySSH(err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(err.Error(), "unable to authenticate") {
		return markTerminal(err)
	}
	return err
}

// classifyFS marks permission errors as terminal.
func classifyFS(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return markTerminal(err)
	}
	return err
}
