package xmmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Buffer is a memory-mapped file region. The engine core never opens
// files itself; the command line tools map the input and output datasets
// here and hand the raw byte slices over.
type Buffer struct {
	file *os.File
	data []byte
}

// Bytes returns the mapped region.
func (b *Buffer) Bytes() []byte { return b.data }

// MapInput maps an existing file read-only. The file must be at least
// size bytes long.
func MapInput(path string, size int64) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat input file: %w", err)
	}
	if info.Size() < size {
		f.Close()
		return nil, fmt.Errorf("input file %q is %d bytes, dataset wants %d",
			path, info.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap input file: %w", err)
	}

	return &Buffer{file: f, data: data}, nil
}

// MapOutput creates (or reuses) the output file, sets its length to
// exactly size (growing or shrinking it) and maps it read-write.
func MapOutput(path string, size int64) (*Buffer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o664)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to prepare output file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap output file: %w", err)
	}

	return &Buffer{file: f, data: data}, nil
}

// Sync flushes the mapped region back to its file.
func (b *Buffer) Sync() error {
	if b.data == nil {
		return nil
	}
	if err := unix.Msync(b.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to sync mapped file: %w", err)
	}
	return nil
}

// Close unmaps the region and closes the underlying file.
func (b *Buffer) Close() error {
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			b.file.Close()
			return fmt.Errorf("failed to unmap file: %w", err)
		}
		b.data = nil
	}
	return b.file.Close()
}
