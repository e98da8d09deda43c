package memory

import (
	"context"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeCollections struct {
	pb.CollectionsClient
	existing []string
	created  *pb.CreateCollection
}

func (f *fakeCollections) List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	resp := &pb.ListCollectionsResponse{}
	for _, name := range f.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: name})
	}
	return resp, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	pb.PointsClient
	upserts  []*pb.UpsertPoints
	payloads []*pb.SetPayloadPoints
	search   *pb.SearchPoints
	results  []*pb.ScoredPoint
}

func (f *fakePoints) Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) SetPayload(ctx context.Context, in *pb.SetPayloadPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.payloads = append(f.payloads, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.search = in
	return &pb.SearchResponse{Result: f.results}, nil
}

func TestQdrantBackend_CreatesMissingCollection(t *testing.T) {
	cols := &fakeCollections{}
	_, err := NewQdrantBackend(context.Background(), &fakePoints{}, cols, "autotool_memory", NewLexicalEmbedder(128))
	require.NoError(t, err)
	require.NotNil(t, cols.created)
	assert.Equal(t, "autotool_memory", cols.created.GetCollectionName())
	assert.Equal(t, uint64(128), cols.created.GetVectorsConfig().GetParams().GetSize())

	cols = &fakeCollections{existing: []string{"autotool_memory"}}
	_, err = NewQdrantBackend(context.Background(), &fakePoints{}, cols, "autotool_memory", NewLexicalEmbedder(128))
	require.NoError(t, err)
	assert.Nil(t, cols.created)
}

func TestQdrantBackend_RequiresEmbedder(t *testing.T) {
	_, err := NewQdrantBackend(context.Background(), &fakePoints{}, &fakeCollections{}, "c", nil)
	assert.Error(t, err)
}

func TestQdrantBackend_PutSearchUpdate(t *testing.T) {
	ctx := context.Background()
	points := &fakePoints{}
	b, err := NewQdrantBackend(ctx, points, &fakeCollections{existing: []string{"mem"}}, "mem", NewLexicalEmbedder(32))
	require.NoError(t, err)

	rec := NewRecord("weather in Oslo", "plan", 0.7, []string{"weather"})
	require.NoError(t, b.Put(ctx, rec))
	require.Len(t, points.upserts, 1)
	point := points.upserts[0].GetPoints()[0]
	assert.Equal(t, rec.ID, point.GetId().GetUuid())
	assert.Len(t, point.GetVectors().GetVector().GetData(), 32)

	points.results = []*pb.ScoredPoint{{Id: point.GetId(), Payload: point.GetPayload(), Score: 0.97}}
	matches, err := b.FindSimilar(ctx, "weather in Oslo", 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, float32(0.9), points.search.GetScoreThreshold())
	assert.Equal(t, "plan", matches[0].Record.Response)
	assert.Equal(t, []string{"weather"}, matches[0].Record.UsedCapabilities)
	assert.InDelta(t, 0.97, matches[0].Similarity, 1e-6)
	assert.Equal(t, 0.7, matches[0].Record.Confidence)

	require.NoError(t, b.UpdateConfidence(ctx, rec.ID, 0.8))
	require.Len(t, points.payloads, 1)
	assert.Equal(t, 0.8, points.payloads[0].GetPayload()["confidence"].GetDoubleValue())
	assert.Equal(t, rec.ID, points.payloads[0].GetPointsSelector().GetPoints().GetIds()[0].GetUuid())
}
