package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
)

// CosineSimilarity calculates the cosine similarity between two embedding vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// PairwiseSimilarity returns the cosine similarity matrix of a set of vectors.
func PairwiseSimilarity(embeddings [][]float32) [][]float32 {
	matrix := make([][]float32, len(embeddings))
	for i := range embeddings {
		matrix[i] = make([]float32, len(embeddings))
		for j := range embeddings {
			if j < i {
				matrix[i][j] = matrix[j][i]
				continue
			}
			matrix[i][j] = CosineSimilarity(embeddings[i], embeddings[j])
		}
	}
	return matrix
}

// Registry maps embedding model identifiers to provider constructors.
// Providers are constructed lazily and cached, so a model is only loaded when
// a collection actually uses it.
type Registry struct {
	mu           sync.Mutex
	constructors map[string]func(modelID string) (Provider, error)
	providers    map[string]Provider
}

// NewRegistry creates a registry with the local and openai constructors
// registered. Local models use the "local/" prefix, OpenAI models "openai/".
func NewRegistry() *Registry {
	registry := &Registry{
		constructors: map[string]func(string) (Provider, error){},
		providers:    map[string]Provider{},
	}
	registry.Register("local", func(modelID string) (Provider, error) {
		return NewLocalProvider(modelID)
	})
	registry.Register("openai", func(modelID string) (Provider, error) {
		return NewOpenAIProvider(modelID)
	})
	return registry
}

// Register adds a provider constructor for a model id prefix.
func (r *Registry) Register(prefix string, constructor func(modelID string) (Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[prefix] = constructor
}

// RegisterProvider adds a ready provider under its model id, bypassing the
// prefix constructors.
func (r *Registry) RegisterProvider(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ModelID()] = provider
}

// Resolve returns the provider for a model id, constructing it on first use.
func (r *Registry) Resolve(modelID string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if provider, ok := r.providers[modelID]; ok {
		return provider, nil
	}

	prefix, _, found := strings.Cut(modelID, "/")
	if !found {
		return nil, fmt.Errorf("%w: embedding model %q must be prefixed with a provider", model.ErrConfig, modelID)
	}

	constructor, ok := r.constructors[prefix]
	if !ok {
		return nil, fmt.Errorf("%w: no embedding provider registered for %q", model.ErrConfig, prefix)
	}

	provider, err := constructor(modelID)
	if err != nil {
		return nil, helper.NewError("construct embedding provider", err)
	}

	r.providers[modelID] = provider
	return provider, nil
}

// LocalProvider runs a sentence transformer model in-process via ONNX.
type LocalProvider struct {
	modelID  string
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewLocalProvider downloads the model if needed and creates the extraction
// pipeline. The model id is the part after the "local/" prefix, resolved
// under the sentence-transformers namespace.
func NewLocalProvider(modelID string) (*LocalProvider, error) {
	name := strings.TrimPrefix(modelID, "local/")
	modelPath, err := helper.PrepareModel("sentence-transformers/"+name, "")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-" + name,
	}
	extractionPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create extraction pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create extraction pipeline: %w", err)
	}

	return &LocalProvider{
		modelID:  modelID,
		session:  session,
		pipeline: extractionPipeline,
	}, nil
}

// ModelID returns the model identifier of the provider
func (p *LocalProvider) ModelID() string {
	return p.modelID
}

// Embed generates embeddings for a batch of texts
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := p.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	return result.Embeddings, nil
}

// Close destroys the underlying session
func (p *LocalProvider) Close() error {
	return p.session.Destroy()
}

// OpenAIProvider generates embeddings through the OpenAI embeddings API.
type OpenAIProvider struct {
	modelID string
	model   openai.EmbeddingModel
	client  *openai.Client
}

// NewOpenAIProvider creates a provider for the model after the "openai/"
// prefix, authenticating with OPENAI_API_KEY.
func NewOpenAIProvider(modelID string) (*OpenAIProvider, error) {
	config, err := helper.NewOpenAIConfiguration()
	if err != nil {
		return nil, err
	}

	return &OpenAIProvider{
		modelID: modelID,
		model:   openai.EmbeddingModel(strings.TrimPrefix(modelID, "openai/")),
		client:  openai.NewClient(config.APIKey),
	}, nil
}

// ModelID returns the model identifier of the provider
func (p *OpenAIProvider) ModelID() string {
	return p.modelID
}

// Embed generates embeddings for a batch of texts
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	response, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d embeddings for %d texts", len(response.Data), len(texts))
	}

	embeddings := make([][]float32, len(response.Data))
	for _, item := range response.Data {
		embeddings[item.Index] = item.Embedding
	}

	return embeddings, nil
}

// Failover wraps a primary and a secondary provider. The primary is retried
// once with backoff before falling over to the secondary; if both fail the
// whole batch fails with ErrEmbeddingUnavailable.
type Failover struct {
	primary   Provider
	secondary Provider

	mu           sync.Mutex
	lastProvider string
}

// NewFailover creates a failover provider pair. The secondary may be nil, in
// which case only the retried primary is used.
func NewFailover(primary, secondary Provider) *Failover {
	return &Failover{
		primary:   primary,
		secondary: secondary,
	}
}

// ModelID returns the model identifier of the primary provider
func (f *Failover) ModelID() string {
	return f.primary.ModelID()
}

// LastProvider reports which provider serviced the most recent batch.
func (f *Failover) LastProvider() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastProvider
}

func (f *Failover) setLastProvider(modelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastProvider = modelID
}

// Embed generates embeddings for a batch of texts
func (f *Failover) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
	), 1), ctx)

	var embeddings [][]float32
	err := backoff.Retry(func() error {
		var embedErr error
		embeddings, embedErr = f.primary.Embed(ctx, texts)
		return embedErr
	}, policy)
	if err == nil {
		f.setLastProvider(f.primary.ModelID())
		return embeddings, nil
	}

	if f.secondary != nil {
		embeddings, secondaryErr := f.secondary.Embed(ctx, texts)
		if secondaryErr == nil {
			f.setLastProvider(f.secondary.ModelID())
			return embeddings, nil
		}
		return nil, fmt.Errorf("%w: primary: %v, secondary: %v", model.ErrEmbeddingUnavailable, err, secondaryErr)
	}

	return nil, fmt.Errorf("%w: %v", model.ErrEmbeddingUnavailable, err)
}

// BoundedProvider caps the number of concurrent Embed calls on the wrapped
// provider.
type BoundedProvider struct {
	provider Provider
	sem      *semaphore.Weighted
}

// NewBoundedProvider wraps a provider with a concurrency limit.
func NewBoundedProvider(provider Provider, maxConcurrency int64) *BoundedProvider {
	return &BoundedProvider{
		provider: provider,
		sem:      semaphore.NewWeighted(maxConcurrency),
	}
}

// ModelID returns the model identifier of the wrapped provider
func (b *BoundedProvider) ModelID() string {
	return b.provider.ModelID()
}

// Embed generates embeddings for a batch of texts
func (b *BoundedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)

	return b.provider.Embed(ctx, texts)
}
