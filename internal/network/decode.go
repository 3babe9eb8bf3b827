package network

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody undoes Content-Encoding so cached bodies are always identity
// encoded. Multiple codings are removed in reverse order of application.
func decodeBody(contentEncoding string, data []byte, limit int64) ([]byte, error) {
	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		var r io.Reader
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("decoding gzip: %w", err)
			}
			defer zr.Close()
			r = zr
		case "deflate":
			// HTTP deflate is zlib framed; some servers send raw DEFLATE.
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if errors.Is(err, zlib.ErrHeader) {
				fr := flate.NewReader(bytes.NewReader(data))
				defer fr.Close()
				r = fr
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decoding deflate: %w", err)
			}
			defer zr.Close()
			r = zr
		case "br":
			r = brotli.NewReader(bytes.NewReader(data))
		case "zstd":
			zr, err := zstd.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("decoding zstd: %w", err)
			}
			defer zr.Close()
			r = zr
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", coding)
		}

		out, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", coding, err)
		}
		if int64(len(out)) > limit {
			return nil, ErrResponseTooLarge
		}
		data = out
	}
	return data, nil
}
