package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/service"
)

// itemLine is one line of an ingest file.
type itemLine struct {
	ItemID    uuid.UUID  `json:"item_id"`
	ItemType  string     `json:"item_type"`
	Embedding []float32  `json:"embedding"`
	Title     string     `json:"title"`
	Summary   string     `json:"summary"`
	Domain    string     `json:"domain"`
	Tags      []string   `json:"tags"`
	CreatedAt *time.Time `json:"created_at"`
}

// ingestFile stores every item of a JSON lines file under ownerID and returns how many were
// written. Items without an id get a fresh one; items without a type get defaultType.
func ingestFile(ctx context.Context, store service.EmbeddingWriter, ownerID, defaultType, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open ingest file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ingest(ctx, store, ownerID, defaultType, f)
}

func ingest(ctx context.Context, store service.EmbeddingWriter, ownerID, defaultType string, r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	written := 0

	for line := 1; ; line++ {
		var item itemLine
		if err := dec.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				return written, nil
			}

			return written, fmt.Errorf("decode item %d: %w", line, err)
		}

		if len(item.Embedding) == 0 {
			return written, fmt.Errorf("item %d: embedding is required", line)
		}

		rec := models.EmbeddingRecord{
			ItemID:    item.ItemID,
			OwnerID:   ownerID,
			ItemType:  item.ItemType,
			Embedding: item.Embedding,
			Title:     item.Title,
			Summary:   item.Summary,
			Domain:    item.Domain,
			Tags:      item.Tags,
			CreatedAt: time.Now().UTC(),
		}

		if rec.ItemID == uuid.Nil {
			rec.ItemID = uuid.Must(uuid.NewV7())
		}

		if rec.ItemType == "" {
			rec.ItemType = defaultType
		}

		if item.CreatedAt != nil {
			rec.CreatedAt = item.CreatedAt.UTC()
		}

		if err := store.PutEmbedding(ctx, rec); err != nil {
			return written, fmt.Errorf("store item %d: %w", line, err)
		}

		written++
	}
}

// readAnchors loads a JSON array of anchors with their satellites.
func readAnchors(path string) ([]service.AnchorSatellites, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read anchors file: %w", err)
	}

	var anchors []service.AnchorSatellites
	if err := json.Unmarshal(data, &anchors); err != nil {
		return nil, fmt.Errorf("decode anchors file: %w", err)
	}

	return anchors, nil
}
