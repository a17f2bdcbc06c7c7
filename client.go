package recall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/db"
	dbRedis "github.com/kailas-cloud/recall/internal/db/redis"
	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/episode"
	"github.com/kailas-cloud/recall/internal/index"
	"github.com/kailas-cloud/recall/internal/metrics"
	"github.com/kailas-cloud/recall/internal/repository/embcache"
	episoderepo "github.com/kailas-cloud/recall/internal/repository/episode"
	"github.com/kailas-cloud/recall/internal/repository/indexcache"
	viewsrepo "github.com/kailas-cloud/recall/internal/repository/views"
	openaiProvider "github.com/kailas-cloud/recall/internal/transport/openai"
	generaluc "github.com/kailas-cloud/recall/internal/usecase/general"
	ingestuc "github.com/kailas-cloud/recall/internal/usecase/ingest"
	retrievaluc "github.com/kailas-cloud/recall/internal/usecase/retrieval"
	routeruc "github.com/kailas-cloud/recall/internal/usecase/router"
	structureduc "github.com/kailas-cloud/recall/internal/usecase/structured"
	usageuc "github.com/kailas-cloud/recall/internal/usecase/usage"
)

const defaultReadinessTimeout = 10 * time.Second

// ErrAllEnginesFailed is returned by Query when no engine could answer.
// The error also unwraps to a trace of the attempts made.
var ErrAllEnginesFailed = domain.ErrAllEnginesFailed

// Record is one raw timeline entry handed to IngestBatch.
type Record struct {
	SourceType string
	Timestamp  time.Time
	Fields     map[string]any
	Provenance string
}

// SkippedRecord reports one record a batch left behind.
type SkippedRecord struct {
	Index      int
	SourceType string
	Reason     string
}

// IngestResult summarizes one ingested batch.
type IngestResult struct {
	Stored     int
	Duplicates int
	Skipped    []SkippedRecord
}

// Source is one piece of evidence backing an answer.
type Source struct {
	Kind       string
	Ref        string
	Similarity float64
	Rows       int
}

// Attempt records one engine dispatch.
type Attempt struct {
	Engine   string
	Outcome  string
	Err      string
	Duration time.Duration
}

// Answer is the result of one routed question.
type Answer struct {
	Question        string
	Engine          string
	Text            string
	Confidence      float64
	Sources         []Source
	GeneratedQuery  string
	TraceID         string
	Attempts        []Attempt
	EmbeddingTokens int
}

// ViewColumn describes one column of a structured view.
type ViewColumn struct {
	Name string
	Type string
}

// View describes one declared structured view.
type View struct {
	Name    string
	Columns []ViewColumn
}

// Client is the recall SDK entry point: the query engine embedded in-process
// instead of behind the HTTP API.
type Client struct {
	store   db.Store
	views   *viewsrepo.Store
	epStore *episode.Store
	epRepo  *episoderepo.Store
	idx     *index.Manager
	ingest  *ingestuc.Service
	router  *routeruc.Router
	usage   *usageuc.Service
	logger  *zap.Logger
}

// New creates a recall Client and connects to its backing stores.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("recall: database address required (use WithRedis)")
	}
	if cfg.viewsPath == "" || len(cfg.viewsDeclared) == 0 {
		return nil, errors.New("recall: views database required (use WithViews)")
	}
	if cfg.genModel == "" {
		return nil, errors.New("recall: generation model required (use WithGeneration)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Username: cfg.username,
		Password: cfg.password,
		DB:       cfg.db,
	})
	if err != nil {
		return nil, fmt.Errorf("recall: create redis store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("recall: database not ready: %w", err)
	}

	views, err := viewsrepo.Open(cfg.viewsPath, cfg.viewsDeclared)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("recall: open views: %w", err)
	}

	return wireClient(store, views, cfg)
}

func wireClient(store db.Store, views *viewsrepo.Store, cfg *clientConfig) (*Client, error) {
	logger := cfg.logger
	ctx := context.Background()

	episodeEmbedder, queryEmbedder := buildEmbedders(store, cfg)

	epStore := episode.NewStore()
	epRepo := episoderepo.New(store, logger)
	if persisted, err := epRepo.LoadAll(ctx); err != nil {
		logger.Warn("Failed to load persisted episodes", zap.Error(err))
	} else {
		for _, ep := range persisted {
			epStore.Put(ep)
		}
	}

	idxManager := index.NewManager(
		epStore, episodeEmbedder, indexcache.New(store, logger), logger,
	)

	generator := openaiProvider.NewGenerator(&openaiProvider.GeneratorConfig{
		APIKey:      cfg.genAPIKey,
		BaseURL:     cfg.genBaseURL,
		Model:       cfg.genModel,
		Temperature: cfg.genTemperature,
		MaxTokens:   cfg.genMaxTokens,
		Logger:      logger,
	})

	structuredEngine := structureduc.New(views, generator, 0, logger)
	retrievalEngine := retrievaluc.New(
		queryEmbedder, idxManager, epStore, generator,
		retrievaluc.Config{
			TopK:          cfg.topK,
			MinSimilarity: cfg.minSimilarity,
		},
		logger,
	)
	generalEngine := generaluc.New(generator, 0, logger)

	router := routeruc.New(
		structuredEngine, retrievalEngine, generalEngine,
		routeruc.Config{EngineTimeout: cfg.engineTimeout, TopK: cfg.topK},
		logger,
	)

	return &Client{
		store:   store,
		views:   views,
		epStore: epStore,
		epRepo:  epRepo,
		idx:     idxManager,
		ingest:  ingestuc.New(epStore, epRepo, logger),
		router:  router,
		usage:   usageuc.New(nil),
		logger:  logger,
	}, nil
}

// buildEmbedders assembles the episode- and query-side embedder chains,
// sharing one provider and cache. Without an embedding model both sides get
// a noop that fails retrieval into the fallback path.
func buildEmbedders(store db.Store, cfg *clientConfig) (domain.BatchEmbedder, domain.Embedder) {
	if cfg.embedModel == "" {
		noop := noopEmbedder{}
		return noop, noop
	}

	base := openaiProvider.NewEmbedder(&openaiProvider.Config{
		APIKey:     cfg.embedAPIKey,
		BaseURL:    cfg.embedBaseURL,
		Model:      cfg.embedModel,
		Dimensions: cfg.embedDimensions,
		Provider:   "openai",
		Logger:     cfg.logger,
	})
	cached := embcache.New(base, store, metrics.EmbeddingCacheTotal, cfg.logger)

	var episodeSide domain.BatchEmbedder = cached
	if cfg.episodeInstruction != "" {
		episodeSide = domain.NewInstructionEmbedder(cached, cfg.episodeInstruction)
	}

	var querySide domain.Embedder = cached
	if cfg.queryInstruction != "" {
		querySide = domain.NewInstructionEmbedder(cached, cfg.queryInstruction)
	}

	return episodeSide, querySide
}

// Close releases all resources.
func (c *Client) Close() {
	if c.views != nil {
		_ = c.views.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// IngestBatch verbalizes and stores a batch of raw records, then refreshes
// the vector index. Re-ingesting the same records is a no-op.
func (c *Client) IngestBatch(ctx context.Context, records []Record) (IngestResult, error) {
	internal := make([]domain.SourceRecord, len(records))
	for i, r := range records {
		internal[i] = domain.SourceRecord{
			SourceType: r.SourceType,
			Timestamp:  r.Timestamp,
			Fields:     r.Fields,
			Provenance: r.Provenance,
		}
	}

	res, err := c.ingest.IngestBatch(ctx, internal)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: %w", err)
	}

	if res.Stored > 0 {
		if err := c.idx.Warm(ctx); err != nil {
			c.logger.Warn("Index refresh after ingest failed", zap.Error(err))
		}
	}

	out := IngestResult{Stored: res.Stored, Duplicates: res.Duplicates}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, SkippedRecord{
			Index:      s.Index,
			SourceType: s.SourceType,
			Reason:     s.Reason,
		})
	}
	return out, nil
}

// Query routes one question through the answer engines. When every
// applicable engine fails, the returned error unwraps to ErrAllEnginesFailed.
func (c *Client) Query(ctx context.Context, question string, opts ...QueryOption) (Answer, error) {
	if question == "" {
		return Answer{}, errors.New("recall: question is required")
	}

	var qo queryOptions
	for _, o := range opts {
		o(&qo)
	}

	res, err := c.router.Route(ctx, question, qo.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("query: %w", err)
	}

	return answerFromResult(res), nil
}

// Views lists the declared structured views.
func (c *Client) Views() []View {
	views := c.views.Views()
	out := make([]View, len(views))
	for i, v := range views {
		cols := make([]ViewColumn, len(v.Columns))
		for j, col := range v.Columns {
			cols[j] = ViewColumn{Name: col.Name, Type: string(col.Type)}
		}
		out[i] = View{Name: v.Name, Columns: cols}
	}
	return out
}

// EpisodeCount reports how many episodes are stored.
func (c *Client) EpisodeCount() int {
	return c.epStore.Len()
}

// UsageBudget is the budget slice of a usage report.
type UsageBudget struct {
	Limit     int64
	Remaining int64
	Exhausted bool
}

// UsageReport summarizes embedding token consumption for a period.
type UsageReport struct {
	Period      string
	PeriodStart int64 // unix millis, 0 for total
	PeriodEnd   int64
	TokensUsed  int64
	Budget      UsageBudget
}

// Usage reports embedding token consumption. period is "day", "month" or
// "total" (the default). Without a configured budget all counters are zero.
func (c *Client) Usage(ctx context.Context, period string) UsageReport {
	r := c.usage.GetReport(ctx, usageuc.ParsePeriod(period))
	return UsageReport{
		Period:      string(r.Period),
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		TokensUsed:  r.TokensUsed,
		Budget: UsageBudget{
			Limit:     r.Budget.Limit,
			Remaining: r.Budget.Remaining,
			Exhausted: r.Budget.Exhausted,
		},
	}
}

func answerFromResult(res domain.QueryResult) Answer {
	sources := make([]Source, len(res.Sources))
	for i, s := range res.Sources {
		sources[i] = Source{
			Kind:       string(s.Kind),
			Ref:        s.Ref,
			Similarity: s.Similarity,
			Rows:       s.Rows,
		}
	}

	attempts := make([]Attempt, len(res.Trace.Attempts))
	for i, a := range res.Trace.Attempts {
		attempts[i] = Attempt{
			Engine:   string(a.Engine),
			Outcome:  string(a.Outcome),
			Err:      a.Err,
			Duration: a.Duration,
		}
	}

	return Answer{
		Question:        res.Question,
		Engine:          string(res.Engine),
		Text:            res.Answer,
		Confidence:      res.Confidence,
		Sources:         sources,
		GeneratedQuery:  res.GeneratedQuery,
		TraceID:         res.Trace.ID,
		Attempts:        attempts,
		EmbeddingTokens: res.Trace.EmbeddingTokens,
	}
}

// noopEmbedder fails every call; retrieval then falls through to the next
// engine.
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, fmt.Errorf(
		"%w: embedder not configured (use WithEmbedding)", domain.ErrEmbeddingProvider,
	)
}

func (noopEmbedder) BatchEmbed(_ context.Context, _ []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchEmbeddingResult{}, fmt.Errorf(
		"%w: embedder not configured (use WithEmbedding)", domain.ErrEmbeddingProvider,
	)
}
