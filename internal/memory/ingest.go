package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/overseer/internal/kv"
)

// ArchiveDocument is the serialized log of an archived stream handed to an Ingestor.
type ArchiveDocument struct {
	StreamID string `json:"stream_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// NewArchiveDocument serializes the stream's frame log.
func NewArchiveDocument(stream Stream) (ArchiveDocument, error) {
	body, err := json.Marshal(stream.Frames)
	if err != nil {
		return ArchiveDocument{}, err
	}
	return ArchiveDocument{
		StreamID: stream.ID,
		Title:    "Simulation Log: " + stream.Goal,
		Body:     string(body),
	}, nil
}

// Ingestor receives archived stream logs for long-term retrieval elsewhere.
type Ingestor interface {
	Ingest(ctx context.Context, doc ArchiveDocument) error
}

// IngestFunc adapts a function to Ingestor.
type IngestFunc func(ctx context.Context, doc ArchiveDocument) error

func (f IngestFunc) Ingest(ctx context.Context, doc ArchiveDocument) error {
	return f(ctx, doc)
}

// KVIngestor stores each archive document under its own key.
type KVIngestor struct {
	Store kv.Store
}

// ArchiveKey returns the key an archived stream's document is stored under.
func ArchiveKey(streamID string) string {
	return "overseer:archive:" + streamID
}

func (k KVIngestor) Ingest(ctx context.Context, doc ArchiveDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode archive document: %w", err)
	}
	return k.Store.Set(ctx, ArchiveKey(doc.StreamID), data)
}
