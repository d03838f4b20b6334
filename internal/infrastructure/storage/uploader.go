package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/garyjia/trip-approval/internal/application/port"
	"go.uber.org/zap"
)

// ReceiptUploader implements port.Uploader on a ReceiptStore. Links are
// built as <publicBaseURL>/<folder>/<name>.
type ReceiptUploader struct {
	store         port.ReceiptStore
	publicBaseURL string
	logger        *zap.Logger
}

// NewReceiptUploader creates a new ReceiptUploader
func NewReceiptUploader(store port.ReceiptStore, publicBaseURL string, logger *zap.Logger) *ReceiptUploader {
	return &ReceiptUploader{
		store:         store,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
}

// Available creates the receipt folder on first use
func (u *ReceiptUploader) Available(ctx context.Context) bool {
	if err := u.store.Ensure(ctx); err != nil {
		u.logger.Error("Receipt folder unavailable", zap.String("folder", u.store.Folder()), zap.Error(err))
		return false
	}
	return true
}

// CountWithPrefix counts stored receipts whose name starts with prefix
func (u *ReceiptUploader) CountWithPrefix(ctx context.Context, prefix string) (int, error) {
	names, err := u.store.Names(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list receipts: %w", err)
	}
	n := 0
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	return n, nil
}

// Upload stores data under name and returns its public link
func (u *ReceiptUploader) Upload(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if err := u.store.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("failed to store receipt: %w", err)
	}

	link, err := url.JoinPath(u.publicBaseURL, u.store.Folder(), name)
	if err != nil {
		return "", fmt.Errorf("failed to build receipt link: %w", err)
	}

	u.logger.Info("Receipt stored",
		zap.String("name", name),
		zap.String("mime_type", mimeType),
		zap.Int("size", len(data)))
	return link, nil
}

var _ port.Uploader = (*ReceiptUploader)(nil)
