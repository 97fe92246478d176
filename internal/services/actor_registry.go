package services

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"parley/internal/models"

	"github.com/cespare/xxhash/v2"
)

// ActorRegistryConfig configures the actor registry
type ActorRegistryConfig struct {
	Shards       int
	HistoryLimit int
	IdleTTL      time.Duration
}

// ActorRegistry maps conversation ids to their single live actor.
// The map is split into shards so unrelated conversations never contend on one lock.
type ActorRegistry struct {
	shards    []*actorShard
	deps      *actorDeps
	idleTTL   time.Duration
	scheduler atomic.Value // SummaryScheduler
}

type actorShard struct {
	mu     sync.Mutex
	actors map[string]*ConversationActor
}

// NewActorRegistry creates a registry. SetScheduler must be called before
// turns can trigger summarization.
func NewActorRegistry(cfg ActorRegistryConfig, store *TranscriptStore, backend InferenceBackend, prompts *PromptService, metrics *Metrics) *ActorRegistry {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 15
	}

	r := &ActorRegistry{
		shards:  make([]*actorShard, cfg.Shards),
		idleTTL: cfg.IdleTTL,
	}
	for i := range r.shards {
		r.shards[i] = &actorShard{actors: make(map[string]*ConversationActor)}
	}

	r.deps = &actorDeps{
		store:        store,
		backend:      backend,
		prompts:      prompts,
		historyLimit: cfg.HistoryLimit,
		scheduler:    r.currentScheduler,
		metrics:      metrics,
	}

	return r
}

// SetScheduler wires the summarization pipeline
func (r *ActorRegistry) SetScheduler(s SummaryScheduler) {
	r.scheduler.Store(&s)
}

// SetMetrics attaches metrics created after the registry. Call before serving traffic.
func (r *ActorRegistry) SetMetrics(m *Metrics) {
	r.deps.metrics = m
}

func (r *ActorRegistry) currentScheduler() SummaryScheduler {
	if s, ok := r.scheduler.Load().(*SummaryScheduler); ok && s != nil {
		return *s
	}
	return nil
}

func (r *ActorRegistry) shardFor(conversationID string) *actorShard {
	return r.shards[xxhash.Sum64String(conversationID)%uint64(len(r.shards))]
}

// acquire returns the actor for id, creating it on first use, and pins it against eviction
func (r *ActorRegistry) acquire(conversationID string) *ConversationActor {
	shard := r.shardFor(conversationID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	actor, ok := shard.actors[conversationID]
	if !ok {
		// Request strings can alias fasthttp's reused buffers; the map key must own its bytes
		id := strings.Clone(conversationID)
		actor = newConversationActor(id, r.deps)
		shard.actors[id] = actor
	}
	actor.holders++
	actor.lastUsed = time.Now()
	return actor
}

func (r *ActorRegistry) release(actor *ConversationActor) {
	shard := r.shardFor(actor.id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	actor.holders--
	actor.lastUsed = time.Now()
}

// HandleMessage routes one turn to the conversation's actor
func (r *ActorRegistry) HandleMessage(ctx context.Context, conversationID, text string, metadata map[string]interface{}) (*models.ChatTurnResult, error) {
	actor := r.acquire(conversationID)
	defer r.release(actor)

	return actor.HandleMessage(ctx, text, metadata)
}

// ApplyExternalStateUpdate routes a partial state update to the conversation's actor
func (r *ActorRegistry) ApplyExternalStateUpdate(ctx context.Context, update models.StateUpdate) error {
	if update.ConversationID == "" {
		return NewValidationError("conversationId is required")
	}

	actor := r.acquire(update.ConversationID)
	defer r.release(actor)

	return actor.ApplyExternalStateUpdate(ctx, update)
}

// Snapshot returns the hydrated cached state of a conversation's actor
func (r *ActorRegistry) Snapshot(ctx context.Context, conversationID string) (models.ActorState, error) {
	actor := r.acquire(conversationID)
	defer r.release(actor)

	if err := actor.Hydrate(ctx); err != nil {
		return models.ActorState{}, err
	}
	return actor.Snapshot(), nil
}

// Count returns the number of resident actors
func (r *ActorRegistry) Count() int {
	total := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		total += len(shard.actors)
		shard.mu.Unlock()
	}
	return total
}

// EvictIdle drops actors nobody holds that have been unused for the idle TTL.
// Evicted actors rehydrate from the store on next use.
func (r *ActorRegistry) EvictIdle(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	evicted := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		for id, actor := range shard.actors {
			if actor.holders == 0 && now.Sub(actor.lastUsed) >= r.idleTTL {
				delete(shard.actors, id)
				evicted++
			}
		}
		shard.mu.Unlock()
	}

	if evicted > 0 {
		log.Printf("🧹 [ACTORS] Evicted %d idle conversation actors", evicted)
	}
	return evicted
}
