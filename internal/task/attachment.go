// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package task

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/doufen-org/graveyard/internal/models"
)

// LocalPath derives the cache-relative file path for an attachment URL.
// The MD5 of the URL (prefixed with the retry counter once it is
// nonzero) shards into two directory levels; the URL's extension is
// preserved so the file opens naturally.
func LocalPath(rawurl string, retries int) string {
	key := rawurl
	if retries > 0 {
		key = strconv.Itoa(retries) + "|" + rawurl
	}
	sum := md5.Sum([]byte(key))
	h := hex.EncodeToString(sum[:])

	ext := ""
	if u, err := url.Parse(rawurl); err == nil {
		ext = path.Ext(u.Path)
	}
	return filepath.Join(h[:2], h[2:4], h[4:]+ext)
}

// RealizeAttachments downloads every attachment not yet materialized
// under the cache directory. A skippable fetch failure leaves the row
// pending for the next run; an existing file on disk is adopted as-is.
func (tc *Context) RealizeAttachments(ctx context.Context) error {
	if tc.Settings.CacheDir == "" {
		return nil
	}
	pending, err := tc.Store.PendingAttachments(ctx)
	if err != nil {
		return err
	}
	for _, a := range pending {
		if err := tc.realizeAttachment(ctx, a); err != nil {
			if skippable(err) {
				tc.Log.Warn().Err(err).Str("url", a.URL).Msg("attachment skipped")
				continue
			}
			return err
		}
	}
	return nil
}

func (tc *Context) realizeAttachment(ctx context.Context, a *models.Attachment) error {
	resp, err := tc.Fetcher.Get(ctx, a.URL)
	if err != nil {
		return err
	}

	local := LocalPath(a.URL, 0)
	full := filepath.Join(tc.Settings.CacheDir, local)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		_, werr := f.Write(resp.Body)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return werr
		}
	case errors.Is(err, fs.ErrExist):
		// A previous run wrote the file but crashed before recording it.
	default:
		return err
	}
	return tc.Store.SetAttachmentLocal(ctx, a.ID, local, resp.Header.Get("Content-Type"))
}
