package coldshock

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/carbocation/pfx"
	"github.com/krolaw/zipstream"
	"github.com/xi2/xz"
)

// Compression identifies the framing of an input stream. Matrix triples and
// sample sheets arrive in whatever state the sequencing core or GEO left them
// in, so every reader sniffs rather than trusting extensions.
type Compression byte

const (
	CompressionInvalid Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZip
	CompressionXZ
	CompressionZ
	CompressionBzip2
)

var compressionSigs = map[Compression][]byte{
	CompressionGzip:  {0x1f, 0x8b, 0x08},
	CompressionZip:   {0x50, 0x4b, 0x03, 0x04},
	CompressionXZ:    {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
	CompressionZ:     {0x1f, 0x9d},
	CompressionBzip2: {0x42, 0x5a, 0x68},
}

// DetectCompression sniffs the first bytes of r without consuming them, which
// keeps it usable on non-seekable streams such as Google Storage reads.
func DetectCompression(r *bufio.Reader) (Compression, error) {
	buff, err := r.Peek(6)
	if err != nil && len(buff) == 0 {
		return CompressionInvalid, err
	}

Outer:
	for ct, sig := range compressionSigs {
		if len(buff) < len(sig) {
			continue
		}
		for position := range sig {
			if buff[position] != sig[position] {
				continue Outer
			}
		}
		return ct, nil
	}

	return CompressionNone, nil
}

type wrappedReadCloser struct {
	io.Reader
	underlying io.Closer
	closer     io.Closer
}

func (w *wrappedReadCloser) Close() error {
	var err error
	if w.closer != nil {
		err = w.closer.Close()
	}
	if w.underlying != nil {
		if uerr := w.underlying.Close(); err == nil {
			err = uerr
		}
	}

	return err
}

// NewDecompressedReader wraps rc so that reads yield uncompressed bytes no
// matter how the stream was framed. Zip archives are expected to carry a
// single member (the convention for compressed matrix files); only the first
// member is read.
func NewDecompressedReader(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)

	ct, err := DetectCompression(br)
	if err != nil {
		return nil, pfx.Err(err)
	}

	switch ct {
	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return &wrappedReadCloser{Reader: gz, underlying: rc, closer: gz}, nil
	case CompressionZip:
		zr := zipstream.NewReader(br)
		if _, err := zr.Next(); err != nil {
			return nil, pfx.Err(err)
		}
		return &wrappedReadCloser{Reader: zr, underlying: rc}, nil
	case CompressionXZ:
		xr, err := xz.NewReader(br, 0)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return &wrappedReadCloser{Reader: xr, underlying: rc}, nil
	case CompressionZ:
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return &wrappedReadCloser{Reader: zr, underlying: rc, closer: zr}, nil
	case CompressionBzip2:
		return &wrappedReadCloser{Reader: bzip2.NewReader(br), underlying: rc}, nil
	}

	return &wrappedReadCloser{Reader: br, underlying: rc}, nil
}

// OpenDecompressed opens path (local or gs://), tries the literal name first
// and then common compressed variants, and returns an uncompressed stream.
func OpenDecompressed(path string) (io.ReadCloser, error) {
	tried := []string{path, path + ".gz", path + ".xz", path + ".zip"}

	var lastErr error
	for _, p := range tried {
		rc, err := Open(p)
		if err != nil {
			lastErr = err
			continue
		}

		return NewDecompressedReader(rc)
	}

	return nil, pfx.Err(lastErr)
}
