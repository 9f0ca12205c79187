package logger

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const tailBlock = 4096

// Tail returns up to n trailing lines of the file at path, oldest first.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Read backwards until n+1 newlines are buffered so the first kept line
	// is complete.
	var buf []byte
	off := st.Size()
	for off > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(tailBlock)
		if off < step {
			step = off
		}
		off -= step
		block := make([]byte, step)
		if _, err := f.ReadAt(block, off); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(block, buf...)
	}

	text := strings.TrimSuffix(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
