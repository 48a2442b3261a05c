// Package qdrant implements vector.Index on a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/vector"
)

// Payload keys.
const (
	keyChunkID      = "chunk_id"
	keyDocumentID   = "document_id"
	keySource       = "source"
	keyOrdinal      = "ordinal"
	keyText         = "text"
	keyStart        = "start"
	keyEnd          = "end"
	keyDocumentHash = "document_hash"
)

// pointNamespace scopes the name-based point ids derived from chunk ids.
var pointNamespace = uuid.MustParse("5f0c7c1e-6b0e-4d0a-9a43-0d1c2f3e4b5a")

// Repository implements vector.Index using Qdrant.
type Repository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	logger      *slog.Logger

	mu  sync.Mutex // serializes writes and guards dim
	dim int
}

// Open connects to host:port and loads the collection's dimension if it exists.
// The collection is created on first write.
func Open(ctx context.Context, host string, port int, collection string, logger *slog.Logger) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant connect %s: %w", model.ErrIndex, addr, err)
	}
	r, err := newRepository(ctx, pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.conn = conn
	return r, nil
}

func newRepository(ctx context.Context, points pb.PointsClient, collections pb.CollectionsClient, collection string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{points: points, collections: collections, collection: collection, logger: logger}

	exists, err := collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: collection})
	if err != nil {
		return nil, indexErr("check collection", err)
	}
	if !exists.GetResult().GetExists() {
		return r, nil
	}
	info, err := collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		return nil, indexErr("get collection", err)
	}
	params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return nil, fmt.Errorf("%w: collection %s has no single unnamed vector", model.ErrIndexCorrupted, collection)
	}
	r.dim = int(params.GetSize())
	return r, nil
}

func (r *Repository) Dimension() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dim
}

// Add deletes the previous points of every document in entries and then
// upserts the new ones.
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
	if r.dim == 0 {
		if err := r.create(ctx, dim); err != nil {
			return err
		}
		r.dim = dim
	}

	for _, doc := range vector.Documents(entries) {
		if err := r.deleteDocument(ctx, doc); err != nil {
			return err
		}
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &pb.PointStruct{
			Id:      pointID(e.Chunk.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
			Payload: payload(e),
		}
	}
	wait := true
	if _, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return indexErr("upsert", err)
	}
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

// search returns Qdrant's limit best points. Qdrant orders equal scores by
// point id, which is unrelated to chunk id order.
func (r *Repository) search(ctx context.Context, vec []float32, limit int) ([]model.RetrievedChunk, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, indexErr("search", err)
	}

	results := make([]model.RetrievedChunk, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		results[i] = model.RetrievedChunk{Chunk: chunkFromPayload(pt.GetPayload()), Score: pt.GetScore()}
	}
	return results, nil
}

func (r *Repository) DocumentHash(ctx context.Context, documentID string) (string, bool, error) {
	if r.Dimension() == 0 {
		return "", false, nil
	}
	limit := uint32(1)
	resp, err := r.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: r.collection,
		Filter:         documentFilter(documentID),
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return "", false, indexErr("scroll", err)
	}
	if len(resp.GetResult()) == 0 {
		return "", false, nil
	}
	return resp.GetResult()[0].GetPayload()[keyDocumentHash].GetStringValue(), true, nil
}

func (r *Repository) DeleteDocument(ctx context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dim == 0 {
		return nil
	}
	return r.deleteDocument(ctx, documentID)
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	if r.Dimension() == 0 {
		return 0, nil
	}
	exact := true
	resp, err := r.points.Count(ctx, &pb.CountPoints{CollectionName: r.collection, Exact: &exact})
	if err != nil {
		return 0, indexErr("count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (r *Repository) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *Repository) create(ctx context.Context, dim int) error {
	_, err := r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dim),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return indexErr("create collection", err)
	}
	r.logger.Info("created qdrant collection", "collection", r.collection, "dimension", dim)
	return nil
}

func (r *Repository) deleteDocument(ctx context.Context, documentID string) error {
	wait := true
	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: documentFilter(documentID)}},
	})
	if err != nil {
		return indexErr("delete document "+documentID, err)
	}
	return nil
}

func documentFilter(documentID string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   keyDocumentID,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: documentID}},
		}},
	}}}
}

func pointID(chunkID string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{
		Uuid: uuid.NewSHA1(pointNamespace, []byte(chunkID)).String(),
	}}
}

func str(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
func num(n int) *pb.Value    { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}} }

func payload(e vector.Entry) map[string]*pb.Value {
	return map[string]*pb.Value{
		keyChunkID:      str(e.Chunk.ID),
		keyDocumentID:   str(e.Chunk.DocumentID),
		keySource:       str(e.Chunk.Source),
		keyOrdinal:      num(e.Chunk.Ordinal),
		keyText:         str(e.Chunk.Text),
		keyStart:        num(e.Chunk.Start),
		keyEnd:          num(e.Chunk.End),
		keyDocumentHash: str(e.DocumentHash),
	}
}

func chunkFromPayload(p map[string]*pb.Value) model.Chunk {
	return model.Chunk{
		ID:         p[keyChunkID].GetStringValue(),
		DocumentID: p[keyDocumentID].GetStringValue(),
		Source:     p[keySource].GetStringValue(),
		Ordinal:    int(p[keyOrdinal].GetIntegerValue()),
		Text:       p[keyText].GetStringValue(),
		Start:      int(p[keyStart].GetIntegerValue()),
		End:        int(p[keyEnd].GetIntegerValue()),
	}
}

func indexErr(op string, err error) error {
	return fmt.Errorf("%w: qdrant %s: %w", model.ErrIndex, op, err)
}

var _ vector.Index = (*Repository)(nil)
