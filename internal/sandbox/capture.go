package sandbox

import "os"

// maxCapturedOutput bounds how much of a plugin's stdout/stderr the host
// keeps. wasmtime's WasiConfig only redirects to a file path, not an
// in-memory writer, so captureFile backs the "bounded ring buffer" with a
// scratch file that is truncated after every Flush; only the last
// maxCapturedOutput bytes of any one call are kept.
const maxCapturedOutput = 64 * 1024

// captureFile is a scratch file wired as a pooled instance's stdout or
// stderr target for its whole lifetime. Flush is called after every
// process() invocation so the file never grows across reuses.
type captureFile struct {
	f *os.File
}

func newCaptureFile() (*captureFile, error) {
	f, err := os.CreateTemp("", "octabot-plugin-io-*")
	if err != nil {
		return nil, err
	}
	return &captureFile{f: f}, nil
}

// Path is the file path to hand to WasiConfig.SetStdoutFile/SetStderrFile.
func (c *captureFile) Path() string { return c.f.Name() }

// Flush returns up to the last maxCapturedOutput bytes written since the
// previous Flush, then truncates the file back to empty.
func (c *captureFile) Flush() ([]byte, error) {
	info, err := c.f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	offset := int64(0)
	if size > maxCapturedOutput {
		offset = size - maxCapturedOutput
	}

	buf := make([]byte, size-offset)
	if size > 0 {
		if _, err := c.f.ReadAt(buf, offset); err != nil {
			return nil, err
		}
	}

	if err := c.f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := c.f.Seek(0, 0); err != nil {
		return nil, err
	}

	return buf, nil
}

// Close removes the underlying scratch file; called when the instance is
// permanently discarded (pool Delete/Close), never between calls.
func (c *captureFile) Close() error {
	path := c.f.Name()
	_ = c.f.Close()
	return os.Remove(path)
}
