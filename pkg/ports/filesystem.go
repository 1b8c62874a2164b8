package ports

// FileSystem is the storage the CLI reads its configuration from and writes
// containers, summaries and debug dumps to.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces path with data, creating missing parent directories.
	WriteFile(path string, data []byte) error

	MkdirAll(path string) error

	// Exists reports whether path names a file or directory. A missing path
	// is not an error.
	Exists(path string) (bool, error)
}
