package util

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Image is a resolved image reference. Exactly one of URL or Data is set;
// Data is base64 encoded.
type Image struct {
	URL       string
	MediaType string
	Data      string
}

// DataURI renders the image as a URL usable by providers that only accept
// URLs (remote URLs are returned unchanged).
func (i Image) DataURI() string {
	if i.URL != "" {
		return i.URL
	}

	return "data:" + i.MediaType + ";base64," + i.Data
}

// ResolveImage interprets src as an http(s) URL, a data URI, or a local file
// path, in that order.
func ResolveImage(src string) (Image, error) {
	src = strings.TrimSpace(src)

	switch {
	case src == "":
		return Image{}, fmt.Errorf("empty image source")
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return Image{URL: src}, nil
	case strings.HasPrefix(src, "data:"):
		meta, data, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return Image{}, fmt.Errorf("unsupported data URI")
		}

		return Image{MediaType: strings.TrimSuffix(meta, ";base64"), Data: data}, nil
	}

	raw, err := os.ReadFile(src)
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}

	return Image{MediaType: http.DetectContentType(raw), Data: base64.StdEncoding.EncodeToString(raw)}, nil
}
