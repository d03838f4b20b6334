package port

import "context"

// ReceiptStore keeps uploaded receipt files in one flat folder
type ReceiptStore interface {
	// Ensure creates the folder when it is missing
	Ensure(ctx context.Context) error
	// Put writes data under name, replacing any file with the same name
	Put(ctx context.Context, name string, data []byte) error
	// Names lists the stored file names. A missing folder is empty.
	Names(ctx context.Context) ([]string, error)
	// Folder is the folder name relative to the storage root
	Folder() string
}
