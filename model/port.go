package model

import "context"

// FileSystem is the capability the engine mutates files through.
//
// Paths are slash-separated and relative to the implementation's root.
// Every method may block; any returned error is fatal to the current command.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	Exists(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string, recursive bool) error
	Delete(ctx context.Context, path string) error
}
