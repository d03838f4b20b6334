package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/garyjia/trip-approval/internal/application/port"
	"go.uber.org/zap"
)

var folderNameStrip = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// CleanFolderName drops everything but letters, digits, '-' and '_'
func CleanFolderName(name string) string {
	return folderNameStrip.ReplaceAllString(name, "")
}

// ReceiptDir stores receipts in <root>/<folder> on the local disk
type ReceiptDir struct {
	root   string
	folder string
	logger *zap.Logger
}

// NewReceiptDir creates a store rooted at root. The folder name is cleaned
// first, so "../x" becomes "x".
func NewReceiptDir(root, folder string, logger *zap.Logger) *ReceiptDir {
	return &ReceiptDir{
		root:   root,
		folder: CleanFolderName(folder),
		logger: logger,
	}
}

func (d *ReceiptDir) Folder() string {
	return d.folder
}

func (d *ReceiptDir) dir() string {
	return filepath.Join(d.root, d.folder)
}

func (d *ReceiptDir) Ensure(ctx context.Context) error {
	if d.folder == "" {
		return fmt.Errorf("receipt folder is not configured")
	}
	if err := os.MkdirAll(d.dir(), 0755); err != nil {
		return fmt.Errorf("failed to create receipt folder: %w", err)
	}
	return nil
}

// Put writes to a temp file and renames it into place, so readers never
// see a half-written receipt.
func (d *ReceiptDir) Put(ctx context.Context, name string, data []byte) error {
	if err := checkFileName(name); err != nil {
		return err
	}
	if err := d.Ensure(ctx); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir(), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(d.dir(), name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move receipt into place: %w", err)
	}

	d.logger.Debug("Receipt written",
		zap.String("folder", d.folder),
		zap.String("name", name),
		zap.Int("size", len(data)))
	return nil
}

// Names skips directories and in-flight temp files
func (d *ReceiptDir) Names(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir())
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list receipt folder: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func checkFileName(name string) error {
	if name == "" || name == "." || name == ".." ||
		filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid receipt name %q", name)
	}
	return nil
}

var _ port.ReceiptStore = (*ReceiptDir)(nil)
