package webdav

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/studio-b12/gowebdav"
)

var (
	// ErrNotFound is returned when a path does not exist on the file server
	ErrNotFound = errors.New("path not found")
	// ErrIsDirectory is returned when a file operation targets a collection
	ErrIsDirectory = errors.New("path is a directory")
)

// Client is the file storage adapter backed by a WebDAV server
type Client struct {
	dav    *gowebdav.Client
	logger *slog.Logger
}

// NewClient creates a WebDAV client
func NewClient(cfg config.WebDAVConfig, logger *slog.Logger) *Client {
	dav := gowebdav.NewClient(cfg.URL, cfg.User, cfg.Password)
	if cfg.Timeout > 0 {
		dav.SetTimeout(cfg.Timeout)
	}
	return &Client{dav: dav, logger: logger}
}

func wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if gowebdav.IsErrNotFound(err) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to %s %s: %w", op, p, ErrNotFound)
	}
	return fmt.Errorf("failed to %s %s: %w", op, p, err)
}

// Exists reports whether p exists
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := c.dav.Stat(p)
	if err != nil {
		if gowebdav.IsErrNotFound(err) || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, wrap("stat", p, err)
	}
	return true, nil
}

// Read returns the content of the file at p
func (c *Client) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.dav.Read(p)
	return data, wrap("read", p, err)
}

// Write stores data at p, creating parent directories
func (c *Client) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := path.Dir(p); dir != "/" && dir != "." {
		if err := c.dav.MkdirAll(dir, 0755); err != nil {
			return wrap("create directory", dir, err)
		}
	}
	return wrap("write", p, c.dav.Write(p, data, 0644))
}

// Copy duplicates the file at src to dst, overwriting dst. Directories are
// rejected.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.requireFile("copy", src); err != nil {
		return err
	}
	return wrap("copy", src, c.dav.Copy(src, dst, true))
}

// Delete removes the file at p. Directories are rejected.
func (c *Client) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.requireFile("delete", p); err != nil {
		return err
	}
	return wrap("delete", p, c.dav.Remove(p))
}

// requireFile fails unless p exists and is not a collection
func (c *Client) requireFile(op, p string) error {
	info, err := c.dav.Stat(p)
	if err != nil {
		return wrap(op, p, err)
	}
	if info.IsDir() {
		return fmt.Errorf("failed to %s %s: %w", op, p, ErrIsDirectory)
	}
	return nil
}

// DeleteDirectory removes the directory at p and everything below it
func (c *Client) DeleteDirectory(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.dav.Stat(p); err != nil {
		return wrap("delete directory", p, err)
	}
	return wrap("delete directory", p, c.dav.RemoveAll(p))
}

// ListDirectory returns the entries directly below p
func (c *Client) ListDirectory(ctx context.Context, p string) ([]models.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := c.dav.ReadDir(p)
	if err != nil {
		return nil, wrap("list", p, err)
	}

	entries := make([]models.FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, entryFromInfo(info))
	}
	return entries, nil
}

func entryFromInfo(info os.FileInfo) models.FileEntry {
	entry := models.FileEntry{
		Name:       strings.TrimSuffix(info.Name(), "/"),
		Type:       models.FileTypeFile,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}
	if info.IsDir() {
		entry.Type = models.FileTypeDir
		entry.Size = 0
		return entry
	}
	if f, ok := info.(*gowebdav.File); ok && f.ContentType() != "" {
		entry.MimeType = f.ContentType()
	} else {
		entry.MimeType = mime.TypeByExtension(path.Ext(entry.Name))
	}
	return entry
}
