package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"parley/internal/database"
	"parley/internal/models"

	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PipelineStepLog durably records summarization runs step by step
type PipelineStepLog interface {
	// Begin returns the stored run with the same id, or stores run and returns it
	Begin(ctx context.Context, run *models.SummarizationRun) (*models.SummarizationRun, error)
	// Checkpoint overwrites the stored run with its current progress
	Checkpoint(ctx context.Context, run *models.SummarizationRun) error
	// Get returns a run by id, or nil when unknown
	Get(ctx context.Context, id string) (*models.SummarizationRun, error)
	// Stale lists unfinished runs not updated since before, oldest first
	Stale(ctx context.Context, before time.Time, limit int) ([]*models.SummarizationRun, error)
}

// MongoStepLog stores runs in the summarization_runs collection
type MongoStepLog struct {
	runs *mongo.Collection
}

// NewMongoStepLog creates a MongoDB-backed step log
func NewMongoStepLog(mongoDB *database.MongoDB) *MongoStepLog {
	return &MongoStepLog{runs: mongoDB.Collection(database.CollectionSummarizationRuns)}
}

func (l *MongoStepLog) collection() *mongo.Collection {
	return l.runs
}

func (l *MongoStepLog) Begin(ctx context.Context, run *models.SummarizationRun) (*models.SummarizationRun, error) {
	existing, err := l.Get(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	_, err = l.collection().InsertOne(ctx, run)
	if mongo.IsDuplicateKeyError(err) {
		// Another worker created it between our read and insert
		return l.Get(ctx, run.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create summarization run: %w", err)
	}
	return run, nil
}

func (l *MongoStepLog) Checkpoint(ctx context.Context, run *models.SummarizationRun) error {
	_, err := l.collection().ReplaceOne(ctx,
		bson.M{"_id": run.ID},
		run,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to checkpoint summarization run: %w", err)
	}
	return nil
}

func (l *MongoStepLog) Get(ctx context.Context, id string) (*models.SummarizationRun, error) {
	var run models.SummarizationRun
	err := l.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summarization run: %w", err)
	}
	return &run, nil
}

func (l *MongoStepLog) Stale(ctx context.Context, before time.Time, limit int) ([]*models.SummarizationRun, error) {
	filter := bson.M{
		"status":    bson.M{"$in": []string{models.RunStatusPending, models.RunStatusRunning}},
		"updatedAt": bson.M{"$lt": before},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := l.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale summarization runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []*models.SummarizationRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("failed to decode summarization runs: %w", err)
	}
	return runs, nil
}

// MemoryStepLog keeps runs in process memory for a day (single node, tests)
type MemoryStepLog struct {
	cache *cache.Cache
}

// NewMemoryStepLog creates an in-memory step log
func NewMemoryStepLog() *MemoryStepLog {
	return &MemoryStepLog{cache: cache.New(24*time.Hour, time.Hour)}
}

func (l *MemoryStepLog) Begin(ctx context.Context, run *models.SummarizationRun) (*models.SummarizationRun, error) {
	if err := l.cache.Add(run.ID, cloneRun(run), cache.DefaultExpiration); err != nil {
		existing, _ := l.Get(ctx, run.ID)
		if existing != nil {
			return existing, nil
		}
	}
	return run, nil
}

func (l *MemoryStepLog) Checkpoint(ctx context.Context, run *models.SummarizationRun) error {
	l.cache.Set(run.ID, cloneRun(run), cache.DefaultExpiration)
	return nil
}

func (l *MemoryStepLog) Get(ctx context.Context, id string) (*models.SummarizationRun, error) {
	value, found := l.cache.Get(id)
	if !found {
		return nil, nil
	}
	return cloneRun(value.(*models.SummarizationRun)), nil
}

func (l *MemoryStepLog) Stale(ctx context.Context, before time.Time, limit int) ([]*models.SummarizationRun, error) {
	var runs []*models.SummarizationRun
	for _, item := range l.cache.Items() {
		run := item.Object.(*models.SummarizationRun)
		if !run.IsTerminal() && run.UpdatedAt.Before(before) {
			runs = append(runs, cloneRun(run))
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].UpdatedAt.Before(runs[j].UpdatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// cloneRun copies a run so cached records never alias a worker's copy
func cloneRun(run *models.SummarizationRun) *models.SummarizationRun {
	c := *run
	c.CompletedSteps = append([]string{}, run.CompletedSteps...)
	c.Transcript = append([]models.ChatMessage(nil), run.Transcript...)
	c.PinnedFacts = append([]string(nil), run.PinnedFacts...)
	return &c
}
