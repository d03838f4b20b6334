package port

import "context"

// Notifier delivers a plain text message to a user of the messaging channel
type Notifier interface {
	Send(ctx context.Context, recipientID, text string) error
}

// Uploader stores expense receipt files and returns a link to each one
type Uploader interface {
	// Available reports whether the destination folder can accept files
	Available(ctx context.Context) bool
	// CountWithPrefix returns how many stored files start with prefix
	CountWithPrefix(ctx context.Context, prefix string) (int, error)
	Upload(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// IDGenerator issues unique record identifiers
type IDGenerator interface {
	NewID() string
}

// Cache is a keyed store with entry expiry
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Delete(keys ...string)
}
