package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"omr-grader/internal/storage"
)

// FileSink writes the encoded report to a file.
type FileSink struct {
	Path    string
	Encoder Encoder
}

// NewFileSink returns a sink whose encoder follows the file extension.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path, Encoder: EncoderFor(path)}
}

func (s *FileSink) Write(ctx context.Context, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), os.ModePerm); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	if err := s.Encoder.Encode(f, r); err != nil {
		f.Close()
		return fmt.Errorf("encode report %s: %w", s.Path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report %s: %w", s.Path, err)
	}

	slog.Info("report written", "path", s.Path, "rows", len(r.Rows))
	return nil
}

// ObjectSink uploads the encoded report to an object store.
type ObjectSink struct {
	Store   storage.ObjectStore
	Bucket  string
	Key     string
	Encoder Encoder
}

func (s *ObjectSink) Write(ctx context.Context, r *Report) error {
	var buf bytes.Buffer
	if err := s.Encoder.Encode(&buf, r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := s.Store.PutObject(ctx, s.Bucket, s.Key, &buf); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}

	slog.Info("report uploaded", "bucket", s.Bucket, "key", s.Key, "rows", len(r.Rows))
	return nil
}

// MultiSink writes to every sink in turn and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, r *Report) error {
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
