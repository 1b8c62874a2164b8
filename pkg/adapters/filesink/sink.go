// Package filesink provides a file-based debug sink implementation.
package filesink

import (
	"fmt"
	"path/filepath"

	"github.com/user/hwencode/pkg/ports"
)

// Sink saves debug output to files.
type Sink struct {
	baseDir string
	fs      ports.FileSystem
}

// New creates a new FileSink.
func New(baseDir string, fs ports.FileSystem) *Sink {
	return &Sink{
		baseDir: baseDir,
		fs:      fs,
	}
}

// Enabled returns true as this sink saves output.
func (s *Sink) Enabled() bool {
	return true
}

// SaveCodecConfig saves the SPS/PPS as an Annex B file.
func (s *Sink) SaveCodecConfig(data []byte) error {
	if err := s.fs.MkdirAll(s.baseDir); err != nil {
		return err
	}
	path := filepath.Join(s.baseDir, "codec-config.h264")
	return s.fs.WriteFile(path, data)
}

// SaveBitstream saves the encoded payload of one work item.
func (s *Sink) SaveBitstream(index int, data []byte) error {
	dir := filepath.Join(s.baseDir, "bitstream")
	if err := s.fs.MkdirAll(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("item-%04d.bin", index))
	return s.fs.WriteFile(path, data)
}

// SaveSummaryJSON saves the run summary as JSON.
func (s *Sink) SaveSummaryJSON(data []byte) error {
	if err := s.fs.MkdirAll(s.baseDir); err != nil {
		return err
	}
	path := filepath.Join(s.baseDir, "summary.json")
	return s.fs.WriteFile(path, data)
}

// Ensure Sink implements ports.DebugSink
var _ ports.DebugSink = (*Sink)(nil)
