package persist

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Writer is the filesystem the persister writes artifacts to.
type Writer interface {
	MkdirAll(dir string) error
	// WriteFile creates or truncates name and writes data to it.
	WriteFile(name string, data []byte) error
	Join(elem ...string) string
}

// FileWriter writes to the local filesystem.
type FileWriter struct{}

func (FileWriter) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func (FileWriter) WriteFile(name string, data []byte) error {
	return os.WriteFile(name, data, 0o644)
}

func (FileWriter) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// SFTPWriter writes artifacts to a remote collection host over SFTP.
type SFTPWriter struct {
	client *sftp.Client
	verify bool
}

// SFTPOption configures an SFTPWriter.
type SFTPOption func(*SFTPWriter)

// WithVerify reads every file back after writing it and compares
// SHA-256 checksums.
func WithVerify() SFTPOption {
	return func(w *SFTPWriter) { w.verify = true }
}

// NewSFTPWriter opens an SFTP session on an established SSH connection.
// The caller keeps ownership of conn; Close only ends the SFTP session.
func NewSFTPWriter(conn *ssh.Client, opts ...SFTPOption) (*SFTPWriter, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	w := &SFTPWriter{client: client}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *SFTPWriter) MkdirAll(dir string) error {
	return w.client.MkdirAll(dir)
}

func (w *SFTPWriter) WriteFile(name string, data []byte) error {
	f, err := w.client.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	// Close flushes the write before any checksum read-back.
	if err := f.Close(); err != nil {
		return err
	}
	if w.verify {
		return w.verifyChecksum(name, data)
	}
	return nil
}

func (w *SFTPWriter) verifyChecksum(name string, data []byte) error {
	f, err := w.client.Open(name)
	if err != nil {
		return fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("read for checksum: %w", err)
	}
	want := sha256.Sum256(data)
	if !bytes.Equal(h.Sum(nil), want[:]) {
		return fmt.Errorf("checksum mismatch on %s", name)
	}
	return nil
}

// Join uses forward slashes; remote paths are always Unix paths.
func (w *SFTPWriter) Join(elem ...string) string {
	return path.Join(elem...)
}

// Close ends the SFTP session.
func (w *SFTPWriter) Close() error {
	return w.client.Close()
}
