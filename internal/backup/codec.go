package backup

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedCodec is returned for compression names or archive streams
// the store cannot handle.
var ErrUnsupportedCodec = errors.New("unsupported compression")

// Codec is the compression layer wrapped around an archive's tar stream.
type Codec interface {
	Name() string
	// Extension is the full archive suffix, e.g. ".tar.gz".
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	// magic is the leading byte signature of a stream in this format.
	magic() []byte
}

type gzipCodec struct{}

func (gzipCodec) Name() string      { return "gzip" }
func (gzipCodec) Extension() string { return ".tar.gz" }
func (gzipCodec) magic() []byte     { return []byte{0x1f, 0x8b} }

func (gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type zstdCodec struct{}

func (zstdCodec) Name() string      { return "zstd" }
func (zstdCodec) Extension() string { return ".tar.zst" }
func (zstdCodec) magic() []byte     { return []byte{0x28, 0xb5, 0x2f, 0xfd} }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return zr.IOReadCloser(), nil
}

var codecs = []Codec{gzipCodec{}, zstdCodec{}}

// CodecByName returns the codec registered under name ("gzip" or "zstd").
func CodecByName(name string) (Codec, error) {
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, name)
}

// IsArchiveName reports whether name carries one of the supported
// compressed-tar extensions.
func IsArchiveName(name string) bool {
	return archiveExtension(name) != ""
}

// archiveExtension returns the matching compressed-tar extension of name, or "".
func archiveExtension(name string) string {
	for _, c := range codecs {
		if strings.HasSuffix(name, c.Extension()) && len(name) > len(c.Extension()) {
			return c.Extension()
		}
	}
	return ""
}

// archiveStem strips the compressed-tar extension from name.
func archiveStem(name string) string {
	return strings.TrimSuffix(name, archiveExtension(name))
}

// detectCodec sniffs the stream header so archives restore regardless of
// their file extension.
func detectCodec(br *bufio.Reader) (Codec, error) {
	head, err := br.Peek(4)
	if err != nil && len(head) == 0 {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty archive", ErrUnsupportedCodec)
		}
		return nil, fmt.Errorf("reading archive header: %w", err)
	}
	for _, c := range codecs {
		if bytes.HasPrefix(head, c.magic()) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: unrecognized archive header % x", ErrUnsupportedCodec, head)
}
