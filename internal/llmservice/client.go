package llmservice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/models"
	"document-qa/internal/rag"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/prompts"
)

const (
	topP              = 0.9
	repetitionPenalty = 1.15
	warmupPrompt      = "Hello"
)

// ModelFactory builds the generative model for cfg.
type ModelFactory func(cfg *config.LLMConfig) (llms.Model, error)

// LLMClient owns the generative model handle. The model is created on first
// use and reused for every pipeline built afterwards.
type LLMClient struct {
	llm     config.LLMConfig
	rag     config.RAGConfig
	factory ModelFactory

	mu    sync.Mutex
	model llms.Model
}

func NewLLMClient(cfg *config.Config) *LLMClient {
	return &LLMClient{llm: cfg.InferenceLLM, rag: cfg.RAG, factory: NewModel}
}

// NewLLMClientWithFactory is NewLLMClient with a custom model constructor.
func NewLLMClientWithFactory(cfg *config.Config, factory ModelFactory) *LLMClient {
	return &LLMClient{llm: cfg.InferenceLLM, rag: cfg.RAG, factory: factory}
}

// NewLLMClientWithModel wraps an already initialized model.
func NewLLMClientWithModel(cfg *config.Config, model llms.Model) *LLMClient {
	return &LLMClient{llm: cfg.InferenceLLM, rag: cfg.RAG, model: model}
}

// Initialize creates the model once and warms it up unless skip_warmup is
// set. The warm-up forces the server to load the weights now, so a missing
// or broken model fails here and not on the first question. A failed
// initialization is retried by the next call.
func (c *LLMClient) Initialize(ctx context.Context) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		return c.model, nil
	}

	start := time.Now()
	model, err := c.factory(&c.llm)
	if err != nil {
		log.Error().Err(err).Str("model", c.llm.Model).Msg("Error initializing LLM")
		return nil, models.Wrap(models.ErrModelLoadFailure, "initialize "+c.llm.Model, err)
	}
	if !c.llm.SkipWarmup {
		if _, err := llms.GenerateFromSinglePrompt(ctx, model, warmupPrompt, llms.WithMaxTokens(1)); err != nil {
			log.Error().Err(err).Str("model", c.llm.Model).Msg("Error loading LLM")
			return nil, models.Wrap(models.ErrModelLoadFailure, "initialize "+c.llm.Model, err)
		}
	}

	log.Info().Str("model", c.llm.Model).Str("provider", c.llm.Provider).Dur("duration", time.Since(start)).Msg("LLM ready")
	c.model = model
	return model, nil
}

// CallOptions are the generation settings applied to every question.
func (c *LLMClient) CallOptions() []chains.ChainCallOption {
	return []chains.ChainCallOption{
		chains.WithMaxTokens(c.llm.MaxNewTokens),
		chains.WithTemperature(c.llm.Temperature),
		chains.WithTopP(topP),
		chains.WithRepetitionPenalty(repetitionPenalty),
	}
}

// CreateQAChain binds the model, the answer prompt and an MMR retriever over
// idx into a pipeline.
func (c *LLMClient) CreateQAChain(ctx context.Context, idx *chromemdb.Index) (*rag.Pipeline, error) {
	model, err := c.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	prompt := prompts.NewPromptTemplate(models.QAPromptTemplate, []string{"context", "question"})
	llmChain := chains.NewLLMChain(model, prompt)
	qa := chains.NewRetrievalQA(
		chains.NewStuffDocuments(llmChain),
		idx.AsRetriever(c.rag.TopK, c.rag.FetchK, c.rag.MMRLambda),
	)
	qa.ReturnSourceDocuments = true

	return rag.NewPipeline(idx, qa, c.rag.TopK, c.CallOptions()...), nil
}

// NewModel builds the served model described by cfg.
func NewModel(cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
		"device":   cfg.Device,
	}).Msg("Creating LLM")

	switch cfg.Provider {
	case config.ProviderOllama:
		// The quantized checkpoint is chosen by the model tag, e.g. zephyr:7b-beta-q4_K_M.
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		if cfg.Device == config.DeviceCPU {
			opts = append(opts, ollama.WithRunnerNumGPU(0))
		}
		return ollama.New(opts...)
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
