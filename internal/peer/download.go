package peer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
)

// Download copies the host's media to dest as it arrives, so the player can
// start on a partial file. With resume set, bytes already in dest are kept
// and only the remainder is fetched; the file is never truncated, since a
// running player may be reading it.
func Download(ctx context.Context, client *http.Client, url, dest string, resume bool) error {
	if client == nil {
		client = http.DefaultClient
	}

	var offset int64
	if resume {
		if info, err := os.Stat(dest); err == nil {
			offset = info.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching media: %w", err)
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	switch {
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// Already complete.
		return nil
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// No range support: skip what we already have.
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				return fmt.Errorf("skipping %d bytes: %w", offset, err)
			}
		}
	default:
		return fmt.Errorf("fetching media: unexpected status %s", resp.Status)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dest, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}
