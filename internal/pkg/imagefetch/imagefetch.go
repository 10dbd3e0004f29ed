// Package imagefetch downloads remote product images and probes their
// dimensions. Failures here are reported but never abort a transfer.
package imagefetch

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
)

const (
	fetchTimeout  = 20 * time.Second
	maxImageBytes = 10 << 20 // 10 MiB
)

var httpClient = &http.Client{Timeout: fetchTimeout}

// Info describes a fetched image.
type Info struct {
	Width  int
	Height int
	Bytes  int
}

// Probe downloads the image at url and decodes its dimensions.
func Probe(url string) (*Info, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	return &Info{Width: bounds.Dx(), Height: bounds.Dy(), Bytes: len(data)}, nil
}
