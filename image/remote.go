package image

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// RemoteEndpoint is a debuginfo-server address in "address[:port]"
// form, as consulted via the debuginfo_server configuration input.
type RemoteEndpoint string

// httpClientTimeout bounds a single companion fetch; the core is
// synchronous and must not hang indefinitely on a slow or dead server.
const httpClientTimeout = 15 * time.Second

// OpenRemote fetches basename from the debuginfo server at endpoint
// and wraps the response body as an Image. The whole body is buffered
// in memory, mirroring how a local OpenBytes-backed companion would be
// used once fetched — the Image Reader contract makes no distinction
// once opened.
func OpenRemote(endpoint RemoteEndpoint, basename string) (Image, error) {
	u := &url.URL{
		Scheme: "http",
		Host:   string(endpoint),
		Path:   path.Join("/", basename),
	}

	client := http.Client{Timeout: httpClientTimeout}
	resp, err := client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("image: fetching %s from %s: %w", basename, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image: server %s returned %s for %s", endpoint, resp.Status, basename)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("image: reading response body for %s: %w", basename, err)
	}

	return OpenBytes(u.String(), data), nil
}
