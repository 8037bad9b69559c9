package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// Qdrant payload keys. Point ids must be UUIDs or integers, so the chunk id
// travels in the payload and the point id is derived from it.
const (
	payloadChunkID  = "chunk_id"
	payloadDocument = "document"
	payloadMetadata = "metadata"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements rag.Store backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg QdrantConfig
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection
// exists (creating it if necessary).
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: %w: vector size must be positive", rag.ErrInvalidArgument)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	return s.createCollection(ctx)
}

func (s *QdrantStore) createCollection(ctx context.Context) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Reset deletes the collection and recreates it empty.
func (s *QdrantStore) Reset(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to delete collection %q: %w", s.cfg.Collection, err)
		}
	}
	return s.createCollection(ctx)
}

// pointID maps a chunk id onto a stable UUID.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragvec:"+chunkID)).String()
}

// Add writes a batch as one request and waits for it to be applied. Qdrant
// only offers upsert, so ids already present are looked up first and reject
// the whole batch. The lookup and the write are not atomic; concurrent
// writers of the same id are not detected.
func (s *QdrantStore) Add(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	if err := rag.ValidateBatch(ids, embeddings, documents, metadatas); err != nil {
		return err
	}
	if _, err := checkBatch(ids, embeddings, int(s.cfg.VectorSize)); err != nil {
		return err
	}
	if err := s.rejectExisting(ctx, ids); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		payload, err := qdrant.TryValueMap(map[string]any{
			payloadChunkID:  id,
			payloadDocument: documents[i],
			payloadMetadata: metadatas[i],
		})
		if err != nil {
			return fmt.Errorf("qdrant: %w: payload for %q: %w", rag.ErrInvalidArgument, id, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(id)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// rejectExisting fails with rag.ErrInvalidArgument when any id is stored.
func (s *QdrantStore) rejectExisting(ctx context.Context, ids []string) error {
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(pointID(id))
	}
	found, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            pids,
		WithPayload:    qdrant.NewWithPayloadInclude(payloadChunkID),
	})
	if err != nil {
		return fmt.Errorf("qdrant: lookup existing points: %w", err)
	}
	if len(found) > 0 {
		return fmt.Errorf("qdrant: %w: duplicate id %q",
			rag.ErrInvalidArgument, found[0].GetPayload()[payloadChunkID].GetStringValue())
	}
	return nil
}

// Query runs one similarity search per query embedding. Qdrant reports cosine
// similarity, which is converted to the distance 1 - score.
func (s *QdrantStore) Query(ctx context.Context, queryEmbeddings [][]float32, nResults int, include rag.Include) (*rag.QueryResult, error) {
	if err := validateQuery(queryEmbeddings, nResults); err != nil {
		return nil, err
	}

	res := &rag.QueryResult{IDs: make([][]string, len(queryEmbeddings))}
	if include.Has(rag.IncludeDocuments) {
		res.Documents = make([][]string, len(queryEmbeddings))
	}
	if include.Has(rag.IncludeMetadatas) {
		res.Metadatas = make([][]map[string]any, len(queryEmbeddings))
	}
	if include.Has(rag.IncludeDistances) {
		res.Distances = make([][]float32, len(queryEmbeddings))
	}

	limit := uint64(nResults)
	for q, vec := range queryEmbeddings {
		points, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.cfg.Collection,
			Query:          qdrant.NewQuery(vec...),
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: search failed: %w", err)
		}

		for _, p := range points {
			payload := p.GetPayload()
			res.IDs[q] = append(res.IDs[q], payload[payloadChunkID].GetStringValue())
			if res.Documents != nil {
				res.Documents[q] = append(res.Documents[q], payload[payloadDocument].GetStringValue())
			}
			if res.Metadatas != nil {
				meta, _ := valueToAny(payload[payloadMetadata]).(map[string]any)
				res.Metadatas[q] = append(res.Metadatas[q], meta)
			}
			if res.Distances != nil {
				res.Distances[q] = append(res.Distances[q], 1-p.GetScore())
			}
		}
	}
	return res, nil
}

// valueToAny converts a payload value back into plain Go values. Integers
// come back as int64 and doubles as float64.
func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, f := range fields {
			out[name] = valueToAny(f)
		}
		return out
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = valueToAny(e)
		}
		return out
	default:
		return nil
	}
}

// Describe reports the collection name and its exact point count.
func (s *QdrantStore) Describe(ctx context.Context) (rag.CollectionInfo, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return rag.CollectionInfo{}, fmt.Errorf("qdrant: count: %w", err)
	}
	return rag.CollectionInfo{Name: s.cfg.Collection, Chunks: int(n)}, nil
}

// Name returns the dependency label used in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Ping checks the Qdrant server health endpoint.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var (
	_ rag.Store     = (*QdrantStore)(nil)
	_ rag.Describer = (*QdrantStore)(nil)
)
