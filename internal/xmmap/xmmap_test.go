package xmmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapInputAndOutput(t *testing.T) {
	dir := t.TempDir()

	inputPath := filepath.Join(dir, "input.bin")
	require.NoError(t, os.WriteFile(inputPath, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0o644))

	input, err := MapInput(inputPath, 8)
	require.NoError(t, err)
	defer input.Close()
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, input.Bytes())

	outputPath := filepath.Join(dir, "output.bin")
	output, err := MapOutput(outputPath, 8)
	require.NoError(t, err)

	copy(output.Bytes(), input.Bytes())
	require.NoError(t, output.Sync())
	require.NoError(t, output.Close())

	written, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, written)
}

func TestMapInputTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2}, 0o644))

	_, err := MapInput(path, 8)
	require.Error(t, err)
}

func TestMapInputMissing(t *testing.T) {
	_, err := MapInput(filepath.Join(t.TempDir(), "absent.bin"), 8)
	require.Error(t, err)
}
