// Package semantic holds the vector-store adapters: a Qdrant gRPC store and
// an in-memory store with the same contract.
package semantic

import (
	"context"
	"fmt"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointsAPI is the subset of pb.PointsClient the store calls.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	OverwritePayload(ctx context.Context, in *pb.SetPayloadPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store calls.
type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dims        int
}

var _ domain.Store = (*VectorStore)(nil)

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string, dims int) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// NewWithClients builds a store over existing clients. Used by tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, dims int) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection, dims: dims}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Dims returns the configured vector size.
func (v *VectorStore) Dims() int { return v.dims }

// EnsureCollection creates the collection with cosine distance if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}
	if v.dims <= 0 {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection,
			domain.NewValidationError("dims", fmt.Sprint(v.dims), domain.ErrInvalidVector))
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// InsertPoint upserts one point by numeric id and waits for the write.
func (v *VectorStore) InsertPoint(ctx context.Context, p domain.StoredPoint) error {
	if err := domain.ValidateVector(p.Vector, v.dims); err != nil {
		return fmt.Errorf("semantic: insert %d: %w", p.ID, err)
	}
	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      pb.NewIDNum(p.ID),
			Vectors: pb.NewVectorsDense(p.Vector),
			Payload: toPayload(p.Payload.ToMap()),
		}},
	})
	if err != nil {
		return fmt.Errorf("semantic: insert %d: %w", p.ID, err)
	}
	return nil
}

// UpdatePayload replaces the whole payload of one point.
func (v *VectorStore) UpdatePayload(ctx context.Context, id uint64, payload domain.Payload) error {
	wait := true
	_, err := v.points.OverwritePayload(ctx, &pb.SetPayloadPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Payload:        toPayload(payload.ToMap()),
		PointsSelector: pb.NewPointsSelector(pb.NewIDNum(id)),
	})
	if err != nil {
		return fmt.Errorf("semantic: overwrite payload %d: %w", id, err)
	}
	return nil
}

// GetPoint fetches one point with payload and vector; (nil, nil) when absent.
func (v *VectorStore) GetPoint(ctx context.Context, id uint64) (*domain.StoredPoint, error) {
	resp, err := v.points.Get(ctx, &pb.GetPoints{
		CollectionName: v.collection,
		Ids:            []*pb.PointId{pb.NewIDNum(id)},
		WithPayload:    pb.NewWithPayload(true),
		WithVectors:    pb.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: get %d: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	p := fromRetrieved(resp.GetResult()[0])
	return &p, nil
}

// ScrollPoints pages through points matching an exact-match filter.
func (v *VectorStore) ScrollPoints(ctx context.Context, req domain.ScrollRequest) (domain.ScrollPage, error) {
	limit := uint32(100)
	if req.Limit > 0 {
		limit = uint32(req.Limit)
	}
	in := &pb.ScrollPoints{
		CollectionName: v.collection,
		Filter:         toFilter(req.Filter),
		Limit:          &limit,
		WithPayload:    pb.NewWithPayload(req.WithPayload),
		WithVectors:    pb.NewWithVectors(req.WithVector),
	}
	if req.Offset != nil {
		in.Offset = pb.NewIDNum(*req.Offset)
	}
	resp, err := v.points.Scroll(ctx, in)
	if err != nil {
		return domain.ScrollPage{}, fmt.Errorf("semantic: scroll: %w", err)
	}

	page := domain.ScrollPage{Points: make([]domain.StoredPoint, 0, len(resp.GetResult()))}
	for _, rp := range resp.GetResult() {
		page.Points = append(page.Points, fromRetrieved(rp))
	}
	if next := resp.GetNextPageOffset(); next != nil {
		n := next.GetNum()
		page.NextOffset = &n
	}
	return page, nil
}

// Count returns the exact number of points matching filter.
func (v *VectorStore) Count(ctx context.Context, f domain.Filter) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Filter:         toFilter(f),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

// CollectionInfo reports point count and vector size.
func (v *VectorStore) CollectionInfo(ctx context.Context) (domain.CollectionInfo, error) {
	resp, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return domain.CollectionInfo{}, fmt.Errorf("semantic: collection info %s: %w", v.collection, err)
	}
	info := resp.GetResult()
	size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if size == 0 {
		size = v.dims
	}
	return domain.CollectionInfo{
		Name:        v.collection,
		PointsCount: info.GetPointsCount(),
		VectorSize:  size,
	}, nil
}

func fromRetrieved(rp *pb.RetrievedPoint) domain.StoredPoint {
	p := domain.StoredPoint{
		ID:      rp.GetId().GetNum(),
		Payload: domain.PayloadFromMap(fromPayload(rp.GetPayload())),
	}
	if vo := rp.GetVectors().GetVector(); vo != nil {
		if dense := vo.GetDense(); dense != nil {
			p.Vector = dense.GetData()
		} else {
			p.Vector = vo.GetData()
		}
	}
	return p
}

func toFilter(f domain.Filter) *pb.Filter {
	if len(f.Must) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(f.Must))
	for _, m := range f.Must {
		must = append(must, fieldMatch(m.Key, m.Value))
	}
	return &pb.Filter{Must: must}
}

// fieldMatch picks the Qdrant match kind from the Go type of value.
func fieldMatch(key string, value any) *pb.Condition {
	switch tv := value.(type) {
	case string:
		return pb.NewMatchKeyword(key, tv)
	case bool:
		return pb.NewMatchBool(key, tv)
	}
	if n, ok := domain.AsInt(value); ok {
		return pb.NewMatchInt(key, n)
	}
	return pb.NewMatchKeyword(key, fmt.Sprint(value))
}
