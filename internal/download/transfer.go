package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
	"github.com/standardbeagle/mdr/internal/types"
)

// progressInterval throttles progress events per task.
const progressInterval = 250 * time.Millisecond

var httpClient = &http.Client{}

// transfer moves one task's bytes to its temp path and renames into place.
// It returns nil only after the file sits at the target path with the right
// size.
func (m *Manager) transfer(ctx context.Context, t types.DownloadTask) error {
	const op = "download.transfer"

	// A finished file of the declared size needs no network at all.
	if info, err := os.Stat(t.TargetPath); err == nil {
		if t.ExpectedSize > 0 && info.Size() == t.ExpectedSize {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(t.TargetPath), 0o755); err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypePermanent, op, err)
	}

	total, ranged := m.probe(ctx, t.SourceURL)

	var offset int64
	if info, err := os.Stat(t.TempPath); err == nil && ranged {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.SourceURL, nil)
	if err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypeInvalidInput, op, err)
	}
	m.authorize(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return classifyNetErr(ctx, op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// resuming at offset
	case http.StatusOK:
		offset = 0
	default:
		return mdrerrors.FromStatus(op, resp.StatusCode)
	}

	if total == 0 && resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}
	if total == 0 && t.ExpectedSize > 0 {
		total = t.ExpectedSize
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(t.TempPath, flags, 0o644)
	if err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypePermanent, op, err)
	}

	transferred, err := m.copyChunks(ctx, t, out, resp.Body, offset, total)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = mdrerrors.New(mdrerrors.ErrorTypePermanent, op, cerr)
	}
	if err != nil {
		return err
	}

	if t.ExpectedSize > 0 && transferred != t.ExpectedSize {
		return mdrerrors.Newf(mdrerrors.ErrorTypeIntegrity, op,
			"size mismatch for %s: got %d bytes, expected %d", t.Ref.Filename, transferred, t.ExpectedSize)
	}

	if err := os.Rename(t.TempPath, t.TargetPath); err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypePermanent, op, err)
	}
	return nil
}

// probe issues a HEAD request to learn the artifact size and whether the
// remote supports ranged requests. Servers that reject HEAD just cost us
// the resume capability.
func (m *Manager) probe(ctx context.Context, sourceURL string) (total int64, ranged bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return 0, false
	}
	m.authorize(req)
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	ranged = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	return total, ranged
}

// copyChunks streams the body in fixed-size chunks, reporting progress at
// most once per interval.
func (m *Manager) copyChunks(ctx context.Context, t types.DownloadTask, dst io.Writer, src io.Reader, offset, total int64) (int64, error) {
	const op = "download.transfer"

	buf := make([]byte, m.cfg.Download.ChunkBytes)
	transferred := offset
	lastEmit := time.Now()
	lastBytes := transferred

	for {
		if err := ctx.Err(); err != nil {
			return transferred, classifyCtxErr(op, err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return transferred, mdrerrors.New(mdrerrors.ErrorTypePermanent, op, writeErr)
			}
			transferred += int64(n)

			if elapsed := time.Since(lastEmit); elapsed >= progressInterval {
				m.setProgress(t.ID, transferred, total)
				m.emit(types.Progress{
					TaskID:      t.ID,
					Filename:    t.Ref.Filename,
					Transferred: transferred,
					Total:       total,
					BytesPerSec: float64(transferred-lastBytes) / elapsed.Seconds(),
					Time:        time.Now(),
				})
				lastEmit = time.Now()
				lastBytes = transferred
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return transferred, classifyNetErr(ctx, op, readErr)
		}
	}

	m.setProgress(t.ID, transferred, total)
	m.emit(types.Progress{
		TaskID:      t.ID,
		Filename:    t.Ref.Filename,
		Transferred: transferred,
		Total:       total,
		Time:        time.Now(),
	})
	return transferred, nil
}

// authorize attaches credentials when the request targets a configured
// catalog host. Foreign hosts never see our tokens.
func (m *Manager) authorize(req *http.Request) {
	host := req.URL.Host
	if m.cfg.CatalogH.Token != "" && sameHost(host, m.cfg.CatalogH.BaseURL) {
		req.Header.Set("Authorization", "Bearer "+m.cfg.CatalogH.Token)
		return
	}
	if m.cfg.CatalogC.APIKey != "" && sameHost(host, m.cfg.CatalogC.BaseURL) {
		req.Header.Set("Authorization", "Bearer "+m.cfg.CatalogC.APIKey)
	}
}

func sameHost(host, baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(host, u.Host)
}

// classifyNetErr separates cooperative cancellation from genuine transport
// failures, which are retryable.
func classifyNetErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return classifyCtxErr(op, ctx.Err())
	}
	return mdrerrors.New(mdrerrors.ErrorTypeTransient, op, err)
}

// classifyCtxErr maps an expired per-task deadline to transient (the retry
// loop gets another shot) and an explicit cancel to cancelled.
func classifyCtxErr(op string, err error) error {
	if err == context.DeadlineExceeded {
		return mdrerrors.New(mdrerrors.ErrorTypeTransient, op, err)
	}
	return mdrerrors.New(mdrerrors.ErrorTypeCancelled, op, err)
}
