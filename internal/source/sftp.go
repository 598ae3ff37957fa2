// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// SFTP resolves a firmware image from an sftp://user@host[:port]/path URL,
// streaming it into the local cache. Build servers that only expose their
// artifacts over SSH are common in lab setups; this resolver treats them
// like any other remote source.
type SFTP struct {
	URL     string
	Name    string
	Version string
	Board   model.BoardType

	user       string
	password   string
	privateKey string
	dir        string
}

// NewSFTP returns a resolver for an SFTP firmware source. Credentials come
// from the injected configuration; a user embedded in the URL wins over the
// configured one.
func NewSFTP(cfg config.Config, rawURL, name, version string, board model.BoardType) *SFTP {
	return &SFTP{
		URL:        rawURL,
		Name:       name,
		Version:    version,
		Board:      board,
		user:       cfg.SFTP.User,
		password:   cfg.SFTP.Password,
		privateKey: cfg.SFTP.PrivateKey,
		dir:        cfg.DownloadsDir,
	}
}

// Resolve connects, stats the remote file and streams it into the cache.
func (s *SFTP) Resolve(ctx context.Context, progress model.ProgressFunc) (*model.FirmwareEntry, error) {
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme != "sftp" || u.Host == "" || u.Path == "" {
		return nil, fmt.Errorf("%w: not a valid sftp URL: %s", ErrNotFound, s.URL)
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if !s.Board.AcceptsExtension(ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat,
			i18n.T("source.error_unsupported_format", ext, strings.Join(s.Board.AcceptedExtensions(), ", ")))
	}

	client, sshConn, err := s.dial(u)
	if err != nil {
		return nil, err
	}
	defer sshConn.Close()
	defer client.Close()

	progress.Emit(i18n.T("source.sftp_fetch", u.Path))

	remote, err := client.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, i18n.T("source.error_not_found", s.URL))
	}
	defer remote.Close()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(s.dir, "sftp-*.part")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	done := make(chan struct{})
	var n int64
	var copyErr error
	go func() {
		defer close(done)
		n, copyErr = io.Copy(io.MultiWriter(tmp, h), remote)
	}()
	select {
	case <-ctx.Done():
		// Closing the connection unblocks the copy; the partial file goes away.
		sshConn.Close()
		<-done
		tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %s", ErrCancelled, s.URL)
	case <-done:
	}
	if cerr := tmp.Close(); copyErr == nil {
		copyErr = cerr
	}
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %s", ErrDownload, i18n.T("source.error_download", s.URL, copyErr))
	}

	sum := hex.EncodeToString(h.Sum(nil))
	final := filepath.Join(s.dir, sum+ext)
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	progress.Emit(i18n.T("source.download_done", path.Base(u.Path), n))

	name := s.Name
	if name == "" {
		name = path.Base(u.Path)
	}

	return &model.FirmwareEntry{
		ID:             entryID(sum),
		Name:           name,
		Version:        s.Version,
		Board:          s.Board,
		FilePath:       final,
		ChecksumSHA256: sum,
		SizeBytes:      uint64(n),
		Source:         model.SourceSFTP,
		SourceMetadata: map[string]string{"url": s.URL},
		AddedAt:        time.Now().UTC(),
	}, nil
}

// dial establishes the SSH connection and SFTP subsystem. Host keys are
// checked against the user's known_hosts file; unknown hosts are rejected,
// the same trust-on-first-use-is-not-enough stance as for any deploy target.
func (s *SFTP) dial(u *url.URL) (*sftp.Client, *ssh.Client, error) {
	user := s.user
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}

	var auths []ssh.AuthMethod
	if s.privateKey != "" {
		keyData, err := os.ReadFile(s.privateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("could not read sftp private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to parse sftp private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if s.password != "" {
		auths = append(auths, ssh.Password(s.password))
	}
	if len(auths) == 0 {
		return nil, nil, fmt.Errorf("%w: no sftp credentials configured", ErrDownload)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, err
	}
	hostKeyCallback, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		return nil, nil, fmt.Errorf("could not load known_hosts: %w", err)
	}

	addr := u.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrDownload, i18n.T("source.error_download", s.URL, err))
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return client, conn, nil
}
