// File: internal/network/compression.go
package network

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Pools for decompression readers to reduce allocation overhead.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} {
			// We rely on Reset() before use.
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewReader(nil)
		},
	}
)

func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func putGzipReader(zr *gzip.Reader) {
	// Reset against an empty reader returns io.EOF, which is expected here.
	_ = zr.Reset(strings.NewReader(""))
	gzipReaderPool.Put(zr)
}

func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func putBrotliReader(br *brotli.Reader) {
	_ = br.Reset(strings.NewReader(""))
	brotliReaderPool.Put(br)
}

// CompressionMiddleware is an http.RoundTripper that advertises brotli, gzip
// and deflate support and transparently decompresses responses.
type CompressionMiddleware struct {
	// Transport is the underlying http.RoundTripper. If nil, http.DefaultTransport is used.
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport, defaulting to http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		// RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// closeWrapper closes both the decompression reader and the original body, and
// returns pooled readers via poolCallback.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	poolCallback func()
}

func (w *closeWrapper) Close() error {
	if w.poolCallback != nil {
		w.poolCallback()
		w.poolCallback = nil
	}
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	return errors.Join(err1, err2)
}

// DecompressResponse wraps resp.Body according to its Content-Encoding header.
// Layered encodings are decoded in reverse order of application. On success the
// encoding and length headers are removed and resp.Uncompressed is set.
//
// NOTE: on error resp.Body may have been partially read; the caller must close
// it and discard the response.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		for _, part := range splitEncodings(encodings[i]) {
			var (
				reader       io.ReadCloser
				poolCallback func()
			)

			switch part {
			case "gzip", "x-gzip":
				zr, err := getGzipReader(resp.Body)
				if err != nil {
					return fmt.Errorf("gzip initialization error: %w", err)
				}
				reader = zr
				poolCallback = func() { putGzipReader(zr) }

			case "br":
				br, err := getBrotliReader(resp.Body)
				if err != nil {
					return fmt.Errorf("brotli initialization error: %w", err)
				}
				// Brotli reader does not implement io.Closer.
				reader = io.NopCloser(br)
				poolCallback = func() { putBrotliReader(br) }

			case "deflate":
				fr, err := newDeflateReader(resp.Body)
				if err != nil {
					return fmt.Errorf("deflate initialization error: %w", err)
				}
				reader = fr

			case "identity", "":
				continue

			default:
				return fmt.Errorf("unsupported Content-Encoding layer: %s", part)
			}

			resp.Body = &closeWrapper{
				ReadCloser:   reader,
				originalBody: resp.Body,
				poolCallback: poolCallback,
			}
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// splitEncodings splits a comma separated header value, last applied first.
func splitEncodings(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, strings.ToLower(strings.TrimSpace(parts[i])))
	}
	return out
}

// newDeflateReader decodes "deflate" bodies, which servers send either
// zlib-wrapped (RFC 1950) or as raw deflate (RFC 1951). The two header bytes
// decide which.
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(header) == 2 && header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}
