package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/internal/textutil"
)

// Embedder turns text into a vector for semantic ranking. Implementations
// wrap whatever embedding capability the deployment has; the registry treats
// the vectors as opaque.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// indexEntry is what the semantic index stores per composition.
type indexEntry struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Vector []float64 `json:"vector,omitempty"`
}

// Index is the Redis-backed semantic index over composition
// {name, description, intent_type} embeddings.
type Index struct {
	client    *redis.Client
	embedder  Embedder
	keyPrefix string
	logger    *zap.Logger
}

// NewIndex creates an Index. The embedder may be nil, in which case entries
// are stored without vectors and search falls back to token overlap.
func NewIndex(client *redis.Client, embedder Embedder, keyPrefix string, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "composer"
	}
	return &Index{
		client:    client,
		embedder:  embedder,
		keyPrefix: keyPrefix + ":index:",
		logger:    logger.With(zap.String("component", "semantic_index")),
	}
}

func (ix *Index) entryKey(id string) string {
	return ix.keyPrefix + "data:" + id
}

func (ix *Index) allKey() string {
	return ix.keyPrefix + "all"
}

// IndexText is the document a composition is indexed under.
func IndexText(comp *composition.Composition) string {
	return strings.TrimSpace(comp.Name + " " + comp.Description + " " + comp.IntentType)
}

// Add indexes or re-indexes a composition.
func (ix *Index) Add(ctx context.Context, comp *composition.Composition) error {
	entry := indexEntry{ID: comp.ID, Text: IndexText(comp)}

	if ix.embedder != nil {
		vector, err := ix.embedder.Embed(ctx, entry.Text)
		if err != nil {
			ix.logger.Warn("embedding failed, indexing without vector",
				zap.String("composition_id", comp.ID),
				zap.Error(err))
		} else {
			entry.Vector = vector
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode index entry: %w", err)
	}

	pipe := ix.client.Pipeline()
	pipe.Set(ctx, ix.entryKey(comp.ID), data, 0)
	pipe.ZAdd(ctx, ix.allKey(), redis.Z{Score: float64(time.Now().UnixNano()), Member: comp.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// Remove drops a composition from the index.
func (ix *Index) Remove(ctx context.Context, id string) error {
	pipe := ix.client.Pipeline()
	pipe.Del(ctx, ix.entryKey(id))
	pipe.ZRem(ctx, ix.allKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// scored pairs a composition ID with its similarity score.
type scored struct {
	ID    string
	Score float64
}

// Search ranks indexed compositions against the query. Vector similarity is
// used when both the query and the entry carry vectors; entries without a
// vector are scored by token overlap against the query.
func (ix *Index) Search(ctx context.Context, query string, topK int, threshold float64) ([]scored, error) {
	ids, err := ix.client.ZRange(ctx, ix.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("index scan failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var queryVector []float64
	if ix.embedder != nil {
		queryVector, err = ix.embedder.Embed(ctx, query)
		if err != nil {
			ix.logger.Warn("query embedding failed, using token overlap", zap.Error(err))
			queryVector = nil
		}
	}
	queryTokens := textutil.Tokenize(query)

	results := make([]scored, 0, len(ids))
	for _, id := range ids {
		data, err := ix.client.Get(ctx, ix.entryKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("index read failed: %w", err)
		}
		var entry indexEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			ix.logger.Warn("skipping corrupt index entry", zap.String("id", id))
			continue
		}

		var score float64
		if queryVector != nil && len(entry.Vector) == len(queryVector) && len(entry.Vector) > 0 {
			score = cosineSimilarity(queryVector, entry.Vector)
		} else {
			score = tokenOverlap(queryTokens, textutil.Tokenize(entry.Text))
		}
		if score >= threshold {
			results = append(results, scored{ID: entry.ID, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Ping checks the index backend.
func (ix *Index) Ping(ctx context.Context) error {
	return ix.client.Ping(ctx).Err()
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// tokenOverlap scores by the count of shared lowercase tokens, normalized by
// the query token count.
func tokenOverlap(queryTokens, docTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	docSet := make(map[string]bool, len(docTokens))
	for _, tok := range docTokens {
		docSet[tok] = true
	}
	matched := 0
	for _, tok := range queryTokens {
		if docSet[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
