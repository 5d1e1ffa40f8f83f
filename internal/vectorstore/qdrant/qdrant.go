package qdrant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"regexp"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"pdfchat/internal/domain"
	"pdfchat/internal/vectorstore"
)

// Config contains connection details for a Qdrant server (gRPC port).
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Backend keeps one gRPC connection and creates one collection per index generation.
// Collections use cosine distance.
type Backend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	apiKey      string
	prefix      string
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// NewBackend dials Qdrant. The connection is established lazily by gRPC.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "pdfchat"
	}
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Backend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		apiKey:      cfg.APIKey,
		prefix:      cfg.Collection,
	}, nil
}

// CollectionName returns the collection used for a generation.
func (b *Backend) CollectionName(generation string) string {
	return b.prefix + "_" + unsafeName.ReplaceAllString(generation, "_")
}

func (b *Backend) Open(ctx context.Context, generation string) (vectorstore.Storage, error) {
	if strings.TrimSpace(generation) == "" {
		return nil, errors.New("qdrant: empty generation")
	}
	return &Storage{backend: b, collection: b.CollectionName(generation)}, nil
}

func (b *Backend) Close() error { return b.conn.Close() }

func (b *Backend) withKey(ctx context.Context) context.Context {
	if b.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", b.apiKey)
}

// Storage is a single Qdrant collection.
type Storage struct {
	backend    *Backend
	collection string
	dimension  int
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	_, err := s.backend.collections.Create(s.backend.withKey(ctx), &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	points := make([]*pb.PointStruct, len(chunks))
	for i, ch := range chunks {
		if len(vectors[i]) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(ch.Index)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: toFloat32(vectors[i])}}},
			Payload: map[string]*pb.Value{
				"chunk_id": {Kind: &pb.Value_StringValue{StringValue: ch.ID}},
				"text":     {Kind: &pb.Value_StringValue{StringValue: ch.Text}},
				"page":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.Page)}},
				"offset":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.Offset)}},
				"index":    {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.Index)}},
			},
		}
	}
	wait := true
	_, err := s.backend.points.Upsert(s.backend.withKey(ctx), &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 4
	}
	resp, err := s.backend.points.Search(s.backend.withKey(ctx), &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         toFloat32(vector),
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, pt := range resp.Result {
		results = append(results, domain.SearchResult{Chunk: chunkFromPayload(pt.Payload), Score: float64(pt.Score)})
	}
	return results, nil
}

// Drop deletes the whole collection.
func (s *Storage) Drop(ctx context.Context) error {
	_, err := s.backend.collections.Delete(s.backend.withKey(ctx), &pb.DeleteCollection{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant delete collection %s: %w", s.collection, err)
	}
	return nil
}

func chunkFromPayload(p map[string]*pb.Value) domain.Chunk {
	return domain.Chunk{
		ID:     p["chunk_id"].GetStringValue(),
		Text:   p["text"].GetStringValue(),
		Page:   int(p["page"].GetIntegerValue()),
		Offset: int(p["offset"].GetIntegerValue()),
		Index:  int(p["index"].GetIntegerValue()),
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

var (
	_ vectorstore.Storage = (*Storage)(nil)
	_ vectorstore.Backend = (*Backend)(nil)
)
