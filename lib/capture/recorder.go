// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/bureau-foundation/sttp/lib/codec"
)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Compression is applied to every frame that shrinks under it.
	Compression Compression

	// Header is written as the first record. Its Version is set by the
	// recorder.
	Header Header

	// Logger receives open and close events. If nil, a logger that
	// discards everything is used.
	Logger *slog.Logger
}

// Stats summarizes what a Recorder has written.
type Stats struct {
	Batches      uint64
	Measurements uint64
	// Bytes counts file bytes, magic and frame headers included.
	Bytes uint64
}

// Recorder appends measurement batches to a capture stream. Safe for
// concurrent use. Writes are buffered; call Flush or Close to push them
// to the underlying writer.
type Recorder struct {
	logger      *slog.Logger
	compression Compression

	mu     sync.Mutex
	writer *bufio.Writer
	closer io.Closer
	stats  Stats
	closed bool
}

// Create creates (or truncates) the capture file at path.
func Create(path string, options RecorderOptions) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	recorder, err := NewRecorder(file, options)
	if err != nil {
		file.Close()
		return nil, err
	}
	recorder.closer = file
	recorder.logger.Info("capture file opened", "path", path, "compression", options.Compression)
	return recorder, nil
}

// NewRecorder writes the file magic and header record to w. If w is an
// io.Closer the caller keeps ownership of it; Close only flushes.
func NewRecorder(w io.Writer, options RecorderOptions) (*Recorder, error) {
	switch options.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return nil, fmt.Errorf("unsupported capture compression %d", uint8(options.Compression))
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	recorder := &Recorder{
		logger:      logger,
		compression: options.Compression,
		writer:      bufio.NewWriterSize(w, 256*1024),
	}

	if _, err := recorder.writer.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("writing capture magic: %w", err)
	}
	recorder.stats.Bytes += uint64(len(magic))

	header := options.Header
	header.Version = FormatVersion
	if err := recorder.writeRecord(frameHeader, header); err != nil {
		return nil, fmt.Errorf("writing capture header: %w", err)
	}
	if err := recorder.writer.Flush(); err != nil {
		return nil, fmt.Errorf("writing capture header: %w", err)
	}
	return recorder, nil
}

// WriteBatch appends one batch.
func (r *Recorder) WriteBatch(batch Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.writeRecord(frameBatch, batch); err != nil {
		return fmt.Errorf("writing capture batch: %w", err)
	}
	r.stats.Batches++
	r.stats.Measurements += uint64(len(batch.Measurements))
	return nil
}

// writeRecord encodes value as one frame. Callers hold mu, except
// during construction.
func (r *Recorder) writeRecord(kind frameKind, value any) error {
	payload, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	stored, used, err := compress(payload, r.compression)
	if err != nil {
		return err
	}
	info := frameInfo{
		kind:             kind,
		compression:      used,
		uncompressedSize: uint32(len(payload)),
		storedSize:       uint32(len(stored)),
		digest:           digestPayload(payload),
	}
	if _, err := r.writer.Write(info.appendTo(make([]byte, 0, frameHeaderSize))); err != nil {
		return err
	}
	if _, err := r.writer.Write(stored); err != nil {
		return err
	}
	r.stats.Bytes += uint64(frameHeaderSize + len(stored))
	return nil
}

// Flush writes buffered frames to the underlying writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.writer.Flush()
}

// Stats returns totals since the recorder was created.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close flushes buffered frames and, for a recorder made by Create,
// closes the file. Later calls return nil.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.writer.Flush()
	if r.closer != nil {
		if closeErr := r.closer.Close(); err == nil {
			err = closeErr
		}
	}
	r.logger.Info("capture closed",
		"batches", r.stats.Batches,
		"measurements", r.stats.Measurements,
		"bytes", r.stats.Bytes,
	)
	return err
}
