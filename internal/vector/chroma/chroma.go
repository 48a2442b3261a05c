// Package chroma implements vector.Index on a Chroma collection through the
// chroma-go v2 HTTP client.
package chroma

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/vector"
)

// Metadata keys.
const (
	keyDocumentID   = "document_id"
	keySource       = "source"
	keyOrdinal      = "ordinal"
	keyStart        = "start"
	keyEnd          = "end"
	keyDocumentHash = "document_hash"
	keyDimension    = "dimension"
)

// Repository implements vector.Index using Chroma. The collection is
// created with cosine space, so Chroma distances are 1 - similarity.
type Repository struct {
	client     chromago.Client
	collection chromago.Collection
	logger     *slog.Logger
	// search runs one nearest-neighbour request; tests replace it.
	search func(ctx context.Context, vec []float32, limit int) ([]model.RetrievedChunk, error)

	mu  sync.Mutex // serializes writes and guards dim
	dim int
}

// Open connects to baseURL and gets or creates the named collection.
func Open(ctx context.Context, baseURL, name string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []chromago.ClientOption
	if baseURL != "" {
		opts = append(opts, chromago.WithBaseURL(baseURL))
	}
	client, err := chromago.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: chroma client: %w", model.ErrIndex, err)
	}
	col, err := client.GetOrCreateCollection(ctx, name,
		chromago.WithCollectionMetadataCreate(chromago.NewMetadata(
			chromago.NewStringAttribute("hnsw:space", "cosine"),
			chromago.NewStringAttribute("created_by", "docrag"),
		)),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: chroma collection %s: %w", model.ErrIndex, name, err)
	}

	r := &Repository{client: client, collection: col, logger: logger}
	r.search = r.nearest
	res, err := col.Get(ctx, chromago.WithLimitGet(1))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: chroma get: %w", model.ErrIndex, err)
	}
	for _, m := range res.GetMetadatas() {
		if d, ok := asInt(metaMap(m)[keyDimension]); ok {
			r.dim = d
		}
	}
	return r, nil
}

func (r *Repository) Dimension() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dim
}

func (r *Repository) Add(ctx context.Context, entries ...vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	dim, err := vector.Validate(r.dim, entries)
	if err != nil {
		return err
	}
	for _, doc := range vector.Documents(entries) {
		if err := r.deleteDocument(ctx, doc); err != nil {
			return err
		}
	}

	ids := make([]chromago.DocumentID, len(entries))
	texts := make([]string, len(entries))
	embs := make([]embeddings.Embedding, len(entries))
	metas := make([]chromago.DocumentMetadata, len(entries))
	for i, e := range entries {
		ids[i] = chromago.DocumentID(e.Chunk.ID)
		texts[i] = e.Chunk.Text
		embs[i] = embeddings.NewEmbeddingFromFloat32(e.Vector)
		metas[i] = chromago.NewDocumentMetadata(
			chromago.NewStringAttribute(keyDocumentID, e.Chunk.DocumentID),
			chromago.NewStringAttribute(keySource, e.Chunk.Source),
			chromago.NewIntAttribute(keyOrdinal, int64(e.Chunk.Ordinal)),
			chromago.NewIntAttribute(keyStart, int64(e.Chunk.Start)),
			chromago.NewIntAttribute(keyEnd, int64(e.Chunk.End)),
			chromago.NewStringAttribute(keyDocumentHash, e.DocumentHash),
			chromago.NewIntAttribute(keyDimension, int64(dim)),
		)
	}
	if err := r.collection.Add(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	); err != nil {
		return fmt.Errorf("%w: chroma add: %w", model.ErrIndex, err)
	}
	r.dim = dim
	return nil
}

func (r *Repository) Query(ctx context.Context, vec []float32, k int) ([]model.RetrievedChunk, error) {
	dim := r.Dimension()
	if dim == 0 || k <= 0 {
		return []model.RetrievedChunk{}, nil
	}
	if err := vector.CheckDimension(dim, len(vec)); err != nil {
		return nil, err
	}

	return vector.TopK(ctx, k, func(ctx context.Context, limit int) ([]model.RetrievedChunk, error) {
		return r.search(ctx, vec, limit)
	})
}

// nearest returns Chroma's limit closest records. HNSW results carry no
// ordering among equal distances.
func (r *Repository) nearest(ctx context.Context, vec []float32, limit int) ([]model.RetrievedChunk, error) {
	res, err := r.collection.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vec)),
		chromago.WithNResults(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: chroma query: %w", model.ErrIndex, err)
	}

	idGroups := res.GetIDGroups()
	if len(idGroups) == 0 {
		return []model.RetrievedChunk{}, nil
	}
	docs := res.GetDocumentsGroups()
	metas := res.GetMetadatasGroups()
	dists := res.GetDistancesGroups()

	results := make([]model.RetrievedChunk, len(idGroups[0]))
	for i, id := range idGroups[0] {
		var text string
		if len(docs) > 0 && i < len(docs[0]) && docs[0][i] != nil {
			text = docs[0][i].ContentString()
		}
		var meta map[string]any
		if len(metas) > 0 && i < len(metas[0]) {
			meta = metaMap(metas[0][i])
		}
		var dist float32
		if len(dists) > 0 && i < len(dists[0]) {
			dist = float32(dists[0][i])
		}
		results[i] = model.RetrievedChunk{
			Chunk: chunkFromMeta(string(id), text, meta),
			Score: Similarity(dist),
		}
	}
	return results, nil
}

func (r *Repository) DocumentHash(ctx context.Context, documentID string) (string, bool, error) {
	res, err := r.collection.Get(ctx,
		chromago.WithWhereGet(chromago.EqString(keyDocumentID, documentID)),
		chromago.WithLimitGet(1),
	)
	if err != nil {
		return "", false, fmt.Errorf("%w: chroma get: %w", model.ErrIndex, err)
	}
	for _, m := range res.GetMetadatas() {
		if h, ok := metaMap(m)[keyDocumentHash].(string); ok {
			return h, true, nil
		}
	}
	return "", false, nil
}

func (r *Repository) DeleteDocument(ctx context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteDocument(ctx, documentID)
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	n, err := r.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: chroma count: %w", model.ErrIndex, err)
	}
	return n, nil
}

func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) deleteDocument(ctx context.Context, documentID string) error {
	if err := r.collection.Delete(ctx, chromago.WithWhereDelete(chromago.EqString(keyDocumentID, documentID))); err != nil {
		return fmt.Errorf("%w: chroma delete %s: %w", model.ErrIndex, documentID, err)
	}
	return nil
}

// Similarity converts a cosine-space distance back to cosine similarity.
func Similarity(distance float32) float32 { return 1 - distance }

// metaMap flattens chroma metadata through JSON; the client exposes no
// generic accessor.
func metaMap(m any) map[string]any {
	out := map[string]any{}
	if m == nil {
		return out
	}
	data, err := json.Marshal(m)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func chunkFromMeta(id, text string, meta map[string]any) model.Chunk {
	c := model.Chunk{ID: id, Text: text}
	c.DocumentID, _ = meta[keyDocumentID].(string)
	c.Source, _ = meta[keySource].(string)
	c.Ordinal, _ = asInt(meta[keyOrdinal])
	c.Start, _ = asInt(meta[keyStart])
	c.End, _ = asInt(meta[keyEnd])
	return c
}

var _ vector.Index = (*Repository)(nil)
