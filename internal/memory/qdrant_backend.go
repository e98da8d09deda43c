package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"autotool/internal/llm"
	"autotool/internal/logging"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantBackend stores records as points in a Qdrant collection, with the
// record fields in the payload.
type QdrantBackend struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	collection  string
	embedder    llm.Embedder
	limit       uint64
}

// DialQdrant connects to addr over gRPC and ensures the collection exists.
func DialQdrant(ctx context.Context, addr, collection string, embedder llm.Embedder) (*QdrantBackend, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect to qdrant at %s: %w", addr, err)
	}
	b, err := NewQdrantBackend(ctx, pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, embedder)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.conn = conn
	return b, nil
}

// NewQdrantBackend wraps existing clients.
func NewQdrantBackend(ctx context.Context, points pb.PointsClient, collections pb.CollectionsClient, collection string, embedder llm.Embedder) (*QdrantBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant backend requires an embedder")
	}
	b := &QdrantBackend{
		points:      points,
		collections: collections,
		collection:  collection,
		embedder:    embedder,
		limit:       32,
	}
	if err := b.ensureCollection(ctx); err != nil {
		return nil, err
	}
	logging.Memory("Qdrant memory backend ready (collection=%s, vectors=%s)", collection, embedder.Name())
	return b, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	resp, err := b.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == b.collection {
			return nil
		}
	}
	_, err = b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(b.embedder.Dimensions()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Put upserts rec as a point keyed by its uuid.
func (b *QdrantBackend) Put(ctx context.Context, rec *Record) error {
	vec, err := b.embedder.Embed(ctx, rec.Input)
	if err != nil {
		return fmt.Errorf("failed to embed memory input: %w", err)
	}
	used, _ := json.Marshal(rec.UsedCapabilities)

	_, err = b.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: b.collection,
		Points: []*pb.PointStruct{{
			Id: pointID(rec.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}},
			},
			Payload: map[string]*pb.Value{
				"input":             stringValue(rec.Input),
				"response":          stringValue(rec.Response),
				"confidence":        doubleValue(rec.Confidence),
				"used_capabilities": stringValue(string(used)),
				"hits":              intValue(int64(rec.Hits)),
				"created_at":        stringValue(rec.CreatedAt.Format(time.RFC3339Nano)),
				"updated_at":        stringValue(rec.UpdatedAt.Format(time.RFC3339Nano)),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert memory: %w", err)
	}
	return nil
}

// UpdateConfidence rewrites the confidence payload field.
func (b *QdrantBackend) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	_, err := b.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: b.collection,
		Payload: map[string]*pb.Value{
			"confidence": doubleValue(clamp01(confidence)),
			"updated_at": stringValue(time.Now().UTC().Format(time.RFC3339Nano)),
		},
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update confidence: %w", err)
	}
	return nil
}

// FindSimilar searches with Qdrant's score threshold; cosine scores are the
// similarity.
func (b *QdrantBackend) FindSimilar(ctx context.Context, text string, threshold float64) ([]Match, error) {
	vec, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	scoreThreshold := float32(threshold)
	resp, err := b.points.Search(ctx, &pb.SearchPoints{
		CollectionName: b.collection,
		Vector:         vec,
		Limit:          b.limit,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		id := p.GetId().GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", p.GetId().GetNum())
		}
		matches = append(matches, Match{
			Record:     recordFromPayload(id, p.GetPayload()),
			Similarity: float64(p.GetScore()),
		})
	}
	return matches, nil
}

// Close closes the gRPC connection when the backend dialed it.
func (b *QdrantBackend) Close() error {
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func recordFromPayload(id string, payload map[string]*pb.Value) *Record {
	rec := &Record{
		ID:         id,
		Input:      payload["input"].GetStringValue(),
		Response:   payload["response"].GetStringValue(),
		Confidence: payload["confidence"].GetDoubleValue(),
		Hits:       int(payload["hits"].GetIntegerValue()),
	}
	if used := payload["used_capabilities"].GetStringValue(); used != "" {
		_ = json.Unmarshal([]byte(used), &rec.UsedCapabilities)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, payload["updated_at"].GetStringValue())
	return rec
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func doubleValue(f float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}
