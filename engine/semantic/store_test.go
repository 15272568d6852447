package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	upsertReq  *pb.UpsertPoints
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	deleteReq  *pb.DeletePoints
	scrollResp []*pb.ScrollResponse
	scrollErr  error
	scrollN    int
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Scroll(_ context.Context, _ *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	if m.scrollErr != nil {
		return nil, m.scrollErr
	}
	resp := m.scrollResp[m.scrollN]
	m.scrollN++
	return resp, nil
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	createReq  *pb.CreateCollection
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "gustomap")
	if vs == nil {
		t.Fatal("expected non-nil")
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "gustomap"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, "gustomap")
	if err := vs.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.createReq != nil {
		t.Fatal("create should not be called when collection exists")
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "gustomap")
	if err := vs.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 768 || params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("wrong vector params: %+v", params)
	}
}

func TestEnsureCollection_InvalidDims(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "gustomap")
	if err := vs.EnsureCollection(context.Background(), 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "gustomap")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_BuildsPoints(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "gustomap")

	err := vs.Upsert(context.Background(), []VectorRecord{
		{
			ID:        "8a6e0804-2bd0-5672-b79e-6a3cbb0b9a9c",
			Embedding: []float32{0.1, 0.2},
			Payload: map[string]any{
				"entity_id":    "place-a",
				"review":       "superb choucroute",
				"review_index": 0,
				"lat":          48.58,
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pts.upsertReq.GetPoints()) != 1 {
		t.Fatalf("expected 1 point, got %d", len(pts.upsertReq.GetPoints()))
	}
	p := pts.upsertReq.GetPoints()[0]
	if p.GetId().GetUuid() != "8a6e0804-2bd0-5672-b79e-6a3cbb0b9a9c" {
		t.Errorf("point id lost: %v", p.GetId())
	}
	if p.GetPayload()["entity_id"].GetStringValue() != "place-a" {
		t.Errorf("entity_id payload lost: %v", p.GetPayload())
	}
	if p.GetPayload()["review_index"].GetIntegerValue() != 0 {
		t.Errorf("review_index payload lost: %v", p.GetPayload())
	}
	if p.GetPayload()["lat"].GetDoubleValue() != 48.58 {
		t.Errorf("lat payload lost: %v", p.GetPayload())
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "gustomap")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Fatal("upsert should not be called for empty batch")
	}
}

func TestDeleteByEntity_FiltersOnEntityID(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "gustomap")

	if err := vs.DeleteByEntity(context.Background(), "place-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filter := pts.deleteReq.GetPoints().GetFilter()
	if len(filter.GetMust()) != 1 {
		t.Fatalf("expected single filter condition: %v", filter)
	}
	field := filter.GetMust()[0].GetField()
	if field.GetKey() != "entity_id" || field.GetMatch().GetKeyword() != "place-a" {
		t.Errorf("wrong filter condition: %v", field)
	}
}

func TestScrollAll_PagesAndSkipsOrphans(t *testing.T) {
	point := func(entityID, review string, vec []float32) *pb.RetrievedPoint {
		payload := map[string]*pb.Value{
			"review": {Kind: &pb.Value_StringValue{StringValue: review}},
		}
		if entityID != "" {
			payload["entity_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: entityID}}
		}
		return &pb.RetrievedPoint{
			Payload: payload,
			Vectors: &pb.VectorsOutput{VectorsOptions: &pb.VectorsOutput_Vector{
				Vector: &pb.VectorOutput{Data: vec},
			}},
		}
	}
	pts := &mockPoints{scrollResp: []*pb.ScrollResponse{
		{
			Result:         []*pb.RetrievedPoint{point("a", "first", []float32{1, 0})},
			NextPageOffset: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 1}},
		},
		{
			Result: []*pb.RetrievedPoint{
				point("", "orphan", []float32{0, 1}),
				point("b", "second", []float32{0, 1}),
			},
		},
	}}
	vs := NewWithClients(pts, &mockCollections{}, "gustomap")

	recs, err := vs.ScrollAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].EntityID != "a" || recs[1].EntityID != "b" {
		t.Errorf("entity ids wrong: %+v", recs)
	}
	if recs[1].SourceText != "second" {
		t.Errorf("source text lost: %+v", recs[1])
	}
	if pts.scrollN != 2 {
		t.Errorf("expected 2 scroll pages, got %d", pts.scrollN)
	}
}

func TestScrollAll_Error(t *testing.T) {
	pts := &mockPoints{scrollErr: errors.New("rpc fail")}
	vs := NewWithClients(pts, &mockCollections{}, "gustomap")
	if _, err := vs.ScrollAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
