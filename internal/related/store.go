package related

import (
	"context"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"
)

const (
	defaultQdrantPort = 6334
	payloadThreadID   = "discord_id"
)

// Match is a stored thread ranked by similarity.
type Match struct {
	ThreadID string
	Score    float32
}

// Store is a vector collection per tenant forum.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dims uint64) error
	Search(ctx context.Context, name string, vector []float32, limit uint64) ([]Match, error)
	Upsert(ctx context.Context, name, threadID string, vector []float32) error
	Close() error
}

// QdrantStore keeps thread vectors in Qdrant, one collection per tenant forum.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore connects to the gRPC endpoint at addr, which may be
// "host", "host:port" or a URL; an https URL enables TLS. QDRANT_API_KEY is
// sent when set.
func NewQdrantStore(addr string) (*QdrantStore, error) {
	cfg, err := qdrantConfig(addr)
	if err != nil {
		return nil, err
	}
	cfg.APIKey = os.Getenv("QDRANT_API_KEY")

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create qdrant client")
	}
	return &QdrantStore{client: client}, nil
}

func qdrantConfig(addr string) (*qdrant.Config, error) {
	cfg := &qdrant.Config{Port: defaultQdrantPort}

	hostport := addr
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid qdrant url %q", addr)
		}
		cfg.UseTLS = u.Scheme == "https"
		hostport = u.Host
	}

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port given.
		host = hostport
		port = ""
	}
	if host == "" {
		return nil, errors.Errorf("invalid qdrant address %q", addr)
	}
	cfg.Host = host
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid qdrant port in %q", addr)
		}
		cfg.Port = p
	}
	return cfg, nil
}

// EnsureCollection creates a cosine collection named name unless it exists.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dims uint64) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "check collection %s", name)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	return errors.Wrapf(err, "create collection %s", name)
}

// Search returns up to limit stored threads closest to vector.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, limit uint64) ([]Match, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayloadInclude(payloadThreadID),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "query collection %s", name)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()[payloadThreadID].GetStringValue()
		if id == "" {
			continue
		}
		matches = append(matches, Match{ThreadID: id, Score: p.GetScore()})
	}
	return matches, nil
}

// Upsert stores a thread vector under a fresh point id.
func (s *QdrantStore) Upsert(ctx context.Context, name, threadID string, vector []float32) error {
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{payloadThreadID: threadID}),
		}},
	})
	return errors.Wrapf(err, "upsert into %s", name)
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
