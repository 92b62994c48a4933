package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamBlobStore keeps uploaded files in a NATS JetStream object store
// bucket. Objects are served back through the REST raw-file route.
type JetStreamBlobStore struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	store   jetstream.ObjectStore
	bucket  string
	baseURL string
}

func NewJetStreamBlobStore(natsURL, bucket, publicBaseURL string) (*JetStreamBlobStore, error) {
	conn, err := nats.Connect(natsURL, nats.Name("chatgenius-blobs"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &JetStreamBlobStore{
		conn:    conn,
		js:      js,
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Init opens the bucket, creating it on first use.
func (s *JetStreamBlobStore) Init(ctx context.Context) error {
	store, err := s.js.ObjectStore(ctx, s.bucket)
	if err == nil {
		s.store = store
		return nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return fmt.Errorf("open bucket %s: %w", s.bucket, err)
	}
	store, err = s.js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      s.bucket,
		Description: "chat file uploads",
	})
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.store = store
	return nil
}

// Put stores data under name and returns the URL clients download it from.
func (s *JetStreamBlobStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	meta := jetstream.ObjectMeta{
		Name:    name,
		Headers: nats.Header{"Content-Type": []string{contentType}},
	}
	if _, err := s.store.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return FileURL(s.baseURL, name), nil
}

func (s *JetStreamBlobStore) Get(ctx context.Context, name string) ([]byte, error) {
	result, err := s.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer result.Close()

	data, err := io.ReadAll(result)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *JetStreamBlobStore) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

func (s *JetStreamBlobStore) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// FileURL is the public download URL of a stored file.
func FileURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/files/" + id + "/raw"
}
