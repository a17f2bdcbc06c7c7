package recall

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	addrs    []string
	username string
	password string
	db       int

	viewsPath     string
	viewsDeclared []string

	embedAPIKey        string
	embedBaseURL       string
	embedModel         string
	embedDimensions    int
	episodeInstruction string
	queryInstruction   string

	genAPIKey      string
	genBaseURL     string
	genModel       string
	genTemperature float32
	genMaxTokens   int

	topK          int
	minSimilarity float64
	engineTimeout time.Duration

	logger *zap.Logger
}

// WithRedis sets the Redis addresses.
func WithRedis(addrs ...string) Option {
	return func(c *clientConfig) {
		c.addrs = addrs
	}
}

// WithRedisAuth sets Redis credentials.
func WithRedisAuth(username, password string) Option {
	return func(c *clientConfig) {
		c.username = username
		c.password = password
	}
}

// WithRedisDB selects a logical Redis database.
func WithRedisDB(db int) Option {
	return func(c *clientConfig) {
		c.db = db
	}
}

// WithViews points the structured engine at a sqlite file and the views the
// generated queries may touch.
func WithViews(path string, declared ...string) Option {
	return func(c *clientConfig) {
		c.viewsPath = path
		c.viewsDeclared = declared
	}
}

// WithEmbedding configures the OpenAI-compatible embedding provider. Without
// it, semantic retrieval is disabled and questions fall through to the other
// engines.
func WithEmbedding(apiKey, baseURL, model string, dimensions int) Option {
	return func(c *clientConfig) {
		c.embedAPIKey = apiKey
		c.embedBaseURL = baseURL
		c.embedModel = model
		c.embedDimensions = dimensions
	}
}

// WithInstructions sets the instruction prefixes prepended before embedding
// episodes and questions respectively.
func WithInstructions(episode, query string) Option {
	return func(c *clientConfig) {
		c.episodeInstruction = episode
		c.queryInstruction = query
	}
}

// WithGeneration configures the OpenAI-compatible chat completion provider.
func WithGeneration(apiKey, baseURL, model string) Option {
	return func(c *clientConfig) {
		c.genAPIKey = apiKey
		c.genBaseURL = baseURL
		c.genModel = model
	}
}

// WithGenerationTuning overrides sampling temperature and the completion
// token cap.
func WithGenerationTuning(temperature float32, maxTokens int) Option {
	return func(c *clientConfig) {
		c.genTemperature = temperature
		c.genMaxTokens = maxTokens
	}
}

// WithTopK sets how many episodes retrieval considers per question.
func WithTopK(k int) Option {
	return func(c *clientConfig) {
		c.topK = k
	}
}

// WithMinSimilarity sets the retrieval similarity floor.
func WithMinSimilarity(floor float64) Option {
	return func(c *clientConfig) {
		c.minSimilarity = floor
	}
}

// WithEngineTimeout bounds each engine attempt.
func WithEngineTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.engineTimeout = d
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// QueryOption tunes a single Query call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	topK int
}

// WithQueryTopK overrides how many episodes retrieval considers for this
// call. Zero keeps the client default; oversized values are capped.
func WithQueryTopK(k int) QueryOption {
	return func(o *queryOptions) {
		o.topK = k
	}
}
