package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/musicsync/internal/provider"
	"github.com/tonimelisma/musicsync/internal/store"
	"github.com/tonimelisma/musicsync/internal/tags"
)

const uriOverridePrefix = "uri::"

// TrackCache is the subset of store.Store the Resolver needs, narrowed so
// tests can supply an in-memory double.
type TrackCache interface {
	GetTrackCache(ctx context.Context, providerName, localPath string) (store.TrackCacheEntry, error)
	UpsertTrackCache(ctx context.Context, e store.TrackCacheEntry) error
}

// Resolver implements SPEC_FULL.md §4.5: local path -> remote URI, with a
// durable cache and an in-flight coalescing layer so a reconciliation
// batch never issues duplicate lookups for the same (provider, local_path)
// pair, grounded on original_source/src/worker.rs's inline resolution loop.
type Resolver struct {
	cache  TrackCache
	tags   tags.Reader
	logger *slog.Logger
	group  singleflight.Group
	nowFn  func() int64
}

// NewResolver constructs a Resolver. nowFn defaults to the wall clock if
// nil; tests inject a fixed clock.
func NewResolver(cache TrackCache, tagReader tags.Reader, logger *slog.Logger, nowFn func() int64) *Resolver {
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().Unix() }
	}

	return &Resolver{cache: cache, tags: tagReader, logger: logger, nowFn: nowFn}
}

// Resolve returns the remote URI for localPath against p, per the
// resolution order in SPEC_FULL.md §4.5. A failed resolution returns
// ("", false, nil) so the caller can skip the track without treating it
// as fatal.
func (r *Resolver) Resolve(ctx context.Context, p provider.Provider, localPath string) (string, bool, error) {
	if uri, ok := strings.CutPrefix(localPath, uriOverridePrefix); ok {
		return uri, true, nil
	}

	key := p.Name() + "\x00" + localPath

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolveUncached(ctx, p, localPath)
	})
	if err != nil {
		return "", false, err
	}

	uri, _ := v.(string)
	if uri == "" {
		return "", false, nil
	}

	return uri, true, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, p provider.Provider, localPath string) (string, error) {
	entry, err := r.cache.GetTrackCache(ctx, p.Name(), localPath)
	switch {
	case err == nil && entry.RemoteID != "":
		return entry.RemoteID, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("resolver: read track cache: %w", err)
	}

	isrc := entry.ISRC
	if isrc == "" {
		if code, ok := r.tags.ReadISRC(localPath); ok {
			isrc = code

			if err := r.cache.UpsertTrackCache(ctx, store.TrackCacheEntry{
				Provider: p.Name(), LocalPath: localPath, ISRC: isrc, ResolvedAt: r.nowFn(),
			}); err != nil {
				r.logger.Warn("resolver: persist isrc failed", "error", err, "local_path", localPath)
			}
		}
	}

	if isrc != "" {
		uri, found, err := p.SearchByISRC(ctx, isrc)
		if err != nil {
			r.logger.Warn("resolver: isrc search failed", "error", err, "provider", p.Name(), "isrc", isrc)
		} else if found {
			if err := r.cache.UpsertTrackCache(ctx, store.TrackCacheEntry{
				Provider: p.Name(), LocalPath: localPath, ISRC: isrc, RemoteID: uri, ResolvedAt: r.nowFn(),
			}); err != nil {
				r.logger.Warn("resolver: persist cache failed", "error", err, "local_path", localPath)
			}

			return uri, nil
		}
	}

	for _, cand := range metadataCandidates(localPath) {
		uri, found, err := p.Search(ctx, cand.title, cand.artist)
		if err != nil {
			r.logger.Warn("resolver: metadata search failed", "error", err, "provider", p.Name(), "local_path", localPath)
			continue
		}

		if !found {
			continue
		}

		lookedUpISRC, _, err := p.LookupISRC(ctx, uri)
		if err != nil {
			lookedUpISRC = ""
		}

		if err := r.cache.UpsertTrackCache(ctx, store.TrackCacheEntry{
			Provider: p.Name(), LocalPath: localPath, ISRC: lookedUpISRC, RemoteID: uri, ResolvedAt: r.nowFn(),
		}); err != nil {
			r.logger.Warn("resolver: persist cache failed", "error", err, "local_path", localPath)
		}

		return uri, nil
	}

	return "", nil
}

type searchCandidate struct {
	artist, title string
}

// metadataCandidates derives (artist, title) search candidates from a
// filename stem, per SPEC_FULL.md §4.5: split on " - " and try both
// orderings, else treat the whole stem as the title. A trailing
// " copy <digits>" suffix (common from file-manager duplication) is
// stripped before searching.
func metadataCandidates(localPath string) []searchCandidate {
	base := filepath.Base(localPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var raw []searchCandidate

	if left, right, ok := strings.Cut(stem, " - "); ok {
		raw = append(raw, searchCandidate{artist: strings.TrimSpace(left), title: strings.TrimSpace(right)})
		raw = append(raw, searchCandidate{artist: strings.TrimSpace(right), title: strings.TrimSpace(left)})
	} else {
		raw = append(raw, searchCandidate{artist: "", title: strings.TrimSpace(stem)})
	}

	for i := range raw {
		raw[i].title = stripCopySuffix(raw[i].title)
	}

	return raw
}

// stripCopySuffix removes a trailing " copy <digits>" suffix, matching
// the duplicate-file naming pattern common on macOS/SMB shares.
func stripCopySuffix(title string) string {
	lower := strings.ToLower(title)

	idx := strings.LastIndex(lower, " copy ")
	if idx < 0 {
		return title
	}

	suffix := lower[idx+len(" copy "):]
	if suffix == "" {
		return title
	}

	for _, c := range suffix {
		if c < '0' || c > '9' {
			return title
		}
	}

	return strings.TrimRight(title[:idx], " ")
}
