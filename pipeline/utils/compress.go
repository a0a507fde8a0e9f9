package utils

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// Gzip compresses data at best compression. Variants are written once and
// served many times, so the slower level pays off.
func Gzip(data []byte) ([]byte, error) {
	buf := SharedBufferPool.Get()
	defer SharedBufferPool.Put(buf)

	zw, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("failed to gzip content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush gzip writer: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Gunzip is the inverse of Gzip.
func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
