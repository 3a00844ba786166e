package mft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/pkg/logger"
)

// SFTPSource retrieves archives over SFTP. The connection is not safe to
// share across concurrent workers, so every operation dials its own session;
// only the single-threaded archive-retrieval step uses this gateway.
type SFTPSource struct {
	conf   *config.MFTConfig
	logger logger.Logger
}

var _ Source = (*SFTPSource)(nil)

func NewSFTPSource(conf *config.MFTConfig, log logger.Logger) (*SFTPSource, error) {
	if conf.Host == "" {
		return nil, fmt.Errorf("sftp host is required")
	}
	if conf.Username == "" {
		return nil, fmt.Errorf("sftp username is required")
	}
	if conf.Password == "" && conf.PrivateKeyPath == "" {
		return nil, fmt.Errorf("sftp credentials missing")
	}
	return &SFTPSource{conf: conf, logger: log}, nil
}

func (s *SFTPSource) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.conf.PrivateKeyPath != "" {
		raw, err := os.ReadFile(s.conf.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		auth = append(auth, ssh.Password(s.conf.Password))
	}

	return &ssh.ClientConfig{
		User:            s.conf.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}

func (s *SFTPSource) dial() (*ssh.Client, *sftp.Client, error) {
	clientConf, err := s.clientConfig()
	if err != nil {
		return nil, nil, err
	}
	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port)
	sshClient, err := ssh.Dial("tcp", addr, clientConf)
	if err != nil {
		return nil, nil, fmt.Errorf("dial sftp host %s: %w", addr, err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, fmt.Errorf("open sftp session: %w", err)
	}
	return sshClient, sftpClient, nil
}

// Exists implements Source.
func (s *SFTPSource) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sshClient, sftpClient, err := s.dial()
	if err != nil {
		return false, err
	}
	defer func() {
		_ = sftpClient.Close()
		_ = sshClient.Close()
	}()

	_, err = sftpClient.Stat(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat remote path %s: %w", remotePath, err)
	}
	return true, nil
}

// Open implements Source. The returned reader owns the SFTP session and
// closes it together with the file.
func (s *SFTPSource) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sshClient, sftpClient, err := s.dial()
	if err != nil {
		return nil, err
	}

	file, err := sftpClient.Open(remotePath)
	if err != nil {
		_ = sftpClient.Close()
		_ = sshClient.Close()
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", remotePath, ErrNotFound)
		}
		return nil, fmt.Errorf("open remote path %s: %w", remotePath, err)
	}

	return &sftpStream{file: file, sftp: sftpClient, ssh: sshClient}, nil
}

// sftpStream bundles the remote file with its session so closing the stream
// tears the connection down.
type sftpStream struct {
	file *sftp.File
	sftp *sftp.Client
	ssh  *ssh.Client
}

func (s *sftpStream) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

func (s *sftpStream) Close() error {
	err := s.file.Close()
	if closeErr := s.sftp.Close(); err == nil {
		err = closeErr
	}
	if closeErr := s.ssh.Close(); err == nil {
		err = closeErr
	}
	return err
}
