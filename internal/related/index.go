// Package related suggests earlier forum threads similar to a new one using
// text embeddings and a vector store.
package related

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fpt/discord-zendesk-bridge/internal/bridge"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

// Index implements bridge.RelatedIndex.
type Index struct {
	store    Store
	embedder Embedder
	dims     uint64
	limit    uint64
	logger   *pkgLogger.Logger
}

// NewIndex creates an index over store. dims must match the embedder's vector size.
func NewIndex(store Store, embedder Embedder, dims, limit int, logger *pkgLogger.Logger) *Index {
	return &Index{
		store:    store,
		embedder: embedder,
		dims:     uint64(dims),
		limit:    uint64(limit),
		logger:   logger.WithComponent("related"),
	}
}

// EnsureCollection creates the collection for key if needed.
func (x *Index) EnsureCollection(ctx context.Context, key string) error {
	return x.store.EnsureCollection(ctx, key, x.dims)
}

// FindAndIndex embeds text, returns the closest earlier threads, then stores
// threadID so later threads can find it. Matches are returned even when the
// store write fails; that failure is only logged.
func (x *Index) FindAndIndex(ctx context.Context, key, threadID, text string) ([]bridge.RelatedMatch, error) {
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if uint64(len(vec)) != x.dims {
		return nil, errors.Errorf("embedding has %d dimensions, collection expects %d", len(vec), x.dims)
	}

	found, err := x.store.Search(ctx, key, vec, x.limit)
	if err != nil {
		return nil, err
	}

	if err := x.store.Upsert(ctx, key, threadID, vec); err != nil {
		x.logger.Warn("Failed to index thread", "collection", key, "thread", threadID, "error", err)
	}

	matches := make([]bridge.RelatedMatch, 0, len(found))
	for _, m := range found {
		matches = append(matches, bridge.RelatedMatch{ThreadID: m.ThreadID, Score: m.Score})
	}
	x.logger.DebugWithIntention(pkgLogger.IntentionDebug, "Related threads", "collection", key, "thread", threadID, "matches", len(matches))
	return matches, nil
}

// Close closes the underlying store.
func (x *Index) Close() error {
	return x.store.Close()
}
