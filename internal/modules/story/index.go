package story

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// SQLIndex keeps embeddings in the story_embeddings table.
type SQLIndex struct {
	rows store.Rows
}

func NewSQLIndex(rows store.Rows) *SQLIndex {
	return &SQLIndex{rows: rows}
}

func (i *SQLIndex) Name() string { return "sql:" + models.TableStoryEmbeddings }

func (i *SQLIndex) Upsert(ctx context.Context, e Entry) error {
	if _, err := i.rows.Delete(ctx, models.TableStoryEmbeddings, store.Where(store.Eq("story_id", e.StoryID))); err != nil {
		return fmt.Errorf("clear embedding: %w", err)
	}
	row := &models.StoryEmbedding{
		StoryID:     e.StoryID,
		Model:       e.Model,
		ContentHash: e.ContentHash,
		Vector:      datatypes.JSONSlice[float32](e.Vector),
	}
	if err := i.rows.Insert(ctx, models.TableStoryEmbeddings, row); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func (i *SQLIndex) DeleteForStories(ctx context.Context, storyIDs []string) (int64, error) {
	return i.rows.Delete(ctx, models.TableStoryEmbeddings, store.Where(store.In("story_id", storyIDs)))
}

// Hash returns the stored content hash of a story, or "" when unindexed.
func (i *SQLIndex) Hash(ctx context.Context, storyID string) (string, error) {
	hashes, err := i.rows.Pluck(ctx, models.TableStoryEmbeddings, "content_hash", store.Where(store.Eq("story_id", storyID)))
	if err != nil || len(hashes) == 0 {
		return "", err
	}
	return hashes[0], nil
}

type mongoEntry struct {
	StoryID     string    `bson:"story_id"`
	Model       string    `bson:"model"`
	ContentHash string    `bson:"content_hash"`
	Vector      []float32 `bson:"vector"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// MongoIndex mirrors embeddings into a MongoDB collection for vector search.
type MongoIndex struct {
	coll *mongo.Collection
}

func NewMongoIndex(coll *mongo.Collection) *MongoIndex {
	return &MongoIndex{coll: coll}
}

// EnsureIndexes creates the unique story_id index.
func (i *MongoIndex) EnsureIndexes(ctx context.Context) error {
	_, err := i.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "story_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (i *MongoIndex) Name() string { return "mongo:" + i.coll.Name() }

func (i *MongoIndex) Upsert(ctx context.Context, e Entry) error {
	doc := mongoEntry{
		StoryID:     e.StoryID,
		Model:       e.Model,
		ContentHash: e.ContentHash,
		Vector:      e.Vector,
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := i.coll.ReplaceOne(ctx, bson.M{"story_id": e.StoryID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (i *MongoIndex) DeleteForStories(ctx context.Context, storyIDs []string) (int64, error) {
	if len(storyIDs) == 0 {
		return 0, nil
	}
	res, err := i.coll.DeleteMany(ctx, bson.M{"story_id": bson.M{"$in": storyIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Indexer embeds stories and writes them to every index. Indexing is best
// effort: failures are logged and never fail the story write.
type Indexer struct {
	embedder Embedder
	primary  *SQLIndex
	indexes  []Index
	log      *zap.Logger
}

func NewIndexer(embedder Embedder, primary *SQLIndex, log *zap.Logger, extra ...Index) *Indexer {
	indexes := []Index{primary}
	indexes = append(indexes, extra...)
	return &Indexer{embedder: embedder, primary: primary, indexes: indexes, log: log}
}

// Indexes lists the indexes the cascade must purge.
func (x *Indexer) Indexes() []Index { return x.indexes }

// ContentHash fingerprints the indexed text of a story.
func ContentHash(s *models.Story) string {
	sum := sha256.Sum256([]byte(indexText(s)))
	return hex.EncodeToString(sum[:])
}

func indexText(s *models.Story) string {
	text := s.EditedText
	if strings.TrimSpace(text) == "" {
		text = s.RawText
	}
	return strings.TrimSpace(s.Title + "\n\n" + text)
}

// Index embeds s unless its content is unchanged since the last run.
func (x *Indexer) Index(ctx context.Context, s *models.Story) error {
	if x == nil || x.embedder == nil {
		return nil
	}
	hash := ContentHash(s)
	if prev, err := x.primary.Hash(ctx, s.ID); err == nil && prev == hash {
		return nil
	}

	vec, model, err := x.embedder.Embed(ctx, indexText(s))
	if err != nil {
		x.log.Warn("embed story failed", zap.String("story_id", s.ID), zap.Error(err))
		return err
	}
	entry := Entry{StoryID: s.ID, Model: model, ContentHash: hash, Vector: vec}

	var errs []error
	for _, idx := range x.indexes {
		if err := idx.Upsert(ctx, entry); err != nil {
			x.log.Warn("index story failed", zap.String("index", idx.Name()), zap.String("story_id", s.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", idx.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Backfill indexes up to limit stories that have no embedding yet and
// returns how many were indexed.
func (x *Indexer) Backfill(ctx context.Context, limit int) (int, error) {
	if x == nil || x.embedder == nil {
		return 0, nil
	}
	rows := x.primary.rows
	all, err := rows.Pluck(ctx, models.TableStories, "id", nil)
	if err != nil {
		return 0, fmt.Errorf("list stories: %w", err)
	}
	indexed, err := rows.Pluck(ctx, models.TableStoryEmbeddings, "story_id", nil)
	if err != nil {
		return 0, fmt.Errorf("list embeddings: %w", err)
	}
	have := make(map[string]struct{}, len(indexed))
	for _, id := range indexed {
		have[id] = struct{}{}
	}
	var missing []string
	for _, id := range all {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
		if len(missing) == limit {
			break
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	var stories []models.Story
	if err := rows.Select(ctx, models.TableStories, store.Where(store.In("id", missing)), &stories); err != nil {
		return 0, fmt.Errorf("load stories: %w", err)
	}
	done := 0
	var errs []error
	for i := range stories {
		if err := x.Index(ctx, &stories[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}
