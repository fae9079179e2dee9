package runner

import (
	"io"
	"os"
)

// Output is one captured stream, spooled to a temp file.
type Output struct {
	f         *os.File
	size      int64
	Truncated bool
}

func newOutput(dir, pattern string) (*Output, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &Output{f: f}, nil
}

// reset empties the spool so a retried attempt never sees stale bytes.
func (o *Output) reset() error {
	o.size = 0
	o.Truncated = false
	if err := o.f.Truncate(0); err != nil {
		return err
	}
	_, err := o.f.Seek(0, io.SeekStart)
	return err
}

// Size is the number of bytes kept.
func (o *Output) Size() int64 { return o.size }

// Reader returns an independent reader over the kept bytes.
func (o *Output) Reader() io.Reader {
	return io.NewSectionReader(o.f, 0, o.size)
}

// Bytes reads the kept bytes into memory.
func (o *Output) Bytes() ([]byte, error) {
	return io.ReadAll(o.Reader())
}

// Close removes the spool file.
func (o *Output) Close() error {
	if o == nil || o.f == nil {
		return nil
	}
	name := o.f.Name()
	err := o.f.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil {
		err = rmErr
	}
	o.f = nil
	return err
}

// cappedWriter keeps the first limit bytes and swallows the rest.
type cappedWriter struct {
	out   *Output
	limit int64
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	remaining := c.limit - c.out.size
	if int64(len(p)) > remaining {
		p = p[:max(remaining, 0)]
		c.out.Truncated = true
	}
	if len(p) > 0 {
		m, err := c.out.f.Write(p)
		c.out.size += int64(m)
		if err != nil {
			return m, err
		}
	}
	return n, nil
}
