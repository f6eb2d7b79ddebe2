package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = "gzip, deflate, br"

// decoders open a decoded view of a response body by Content-Encoding.
var decoders = map[string]func(io.Reader) (io.Reader, error){
	"gzip": func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	"deflate": func(r io.Reader) (io.Reader, error) {
		return flate.NewReader(r), nil
	},
	"br": func(r io.Reader) (io.Reader, error) {
		return brotli.NewReader(r), nil
	},
}

// wrapBody installs decoding and the size limit on resp.Body.
func (c *Client) wrapBody(resp *http.Response) {
	if c.config.EnableDecompression {
		if enc := strings.ToLower(resp.Header.Get(HeaderContentEncoding)); enc != "" {
			if open, ok := decoders[enc]; ok {
				r, err := open(resp.Body)
				if err != nil {
					c.logger.Warn("undecodable response body, returning raw body",
						slog.String("encoding", enc),
						slog.String("error", err.Error()),
					)
				} else {
					resp.Body = &decodedBody{Reader: r, raw: resp.Body}
				}
			}
		}
	}
	if c.config.MaxResponseSize > 0 {
		resp.Body = &cappedBody{ReadCloser: resp.Body, remaining: c.config.MaxResponseSize}
	}
}

type decodedBody struct {
	io.Reader
	raw io.Closer
}

func (d *decodedBody) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return d.raw.Close()
}

// cappedBody fails with ErrResponseTooLarge once more than the limit is read.
type cappedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}
