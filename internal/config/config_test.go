package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RAG.ChunkSize != defaultChunkSize || cfg.RAG.ChunkOverlap != defaultChunkOverlap {
		t.Errorf("chunking = %d/%d", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.TopK != defaultTopK || cfg.RAG.FetchK != defaultFetchK {
		t.Errorf("retrieval = %d/%d", cfg.RAG.TopK, cfg.RAG.FetchK)
	}
	if cfg.InferenceLLM.Model != defaultInferenceModel || cfg.InferenceLLM.Provider != ProviderOllama {
		t.Errorf("inference = %+v", cfg.InferenceLLM)
	}
	if len(cfg.RAG.AllowedExtensions) != 4 {
		t.Errorf("allowed = %v", cfg.RAG.AllowedExtensions)
	}
	if cfg.RAG.MMRLambda != defaultMMRLambda || cfg.InferenceLLM.Temperature != defaultTemperature {
		t.Errorf("mmr_lambda = %v, temperature = %v", cfg.RAG.MMRLambda, cfg.InferenceLLM.Temperature)
	}
	if d := Default(); d.RAG.MMRLambda != defaultMMRLambda || d.InferenceLLM.Temperature != defaultTemperature {
		t.Errorf("Default() mmr_lambda = %v, temperature = %v", d.RAG.MMRLambda, d.InferenceLLM.Temperature)
	}
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `
rag:
  mmr_lambda: 0
inference_llm:
  temperature: 0
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RAG.MMRLambda != 0 {
		t.Errorf("mmr_lambda = %v, want 0", cfg.RAG.MMRLambda)
	}
	if cfg.InferenceLLM.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", cfg.InferenceLLM.Temperature)
	}

	// the keys are absent here, so the defaults apply
	path = writeConfig(t, "rag:\n  top_k: 2\n")
	if cfg, err = LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RAG.MMRLambda != defaultMMRLambda || cfg.InferenceLLM.Temperature != defaultTemperature {
		t.Errorf("mmr_lambda = %v, temperature = %v", cfg.RAG.MMRLambda, cfg.InferenceLLM.Temperature)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
rag:
  allowed_extensions: [TXT, md, .XLSX]
  chunk_size: 50
  chunk_overlap: 10
  top_k: 4
inference_llm:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.2
web:
  addr: "127.0.0.1:9000"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := strings.Join(cfg.RAG.AllowedExtensions, ","); got != ".txt,.md,.xlsx" {
		t.Errorf("allowed = %s", got)
	}
	if cfg.RAG.ChunkSize != 50 || cfg.RAG.ChunkOverlap != 10 || cfg.RAG.TopK != 4 {
		t.Errorf("rag = %+v", cfg.RAG)
	}
	if cfg.RAG.FetchK != defaultFetchK {
		t.Errorf("fetch_k = %d", cfg.RAG.FetchK)
	}
	if cfg.InferenceLLM.Provider != ProviderOpenAI || cfg.InferenceLLM.Temperature != 0.2 {
		t.Errorf("inference = %+v", cfg.InferenceLLM)
	}
	if cfg.EmbedLLM.Provider != ProviderOllama {
		t.Errorf("embed provider = %s", cfg.EmbedLLM.Provider)
	}
	if cfg.Web.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %s", cfg.Web.Addr)
	}
	if !cfg.RAG.IsAllowed(".XLSX") || cfg.RAG.IsAllowed(".pdf") {
		t.Errorf("IsAllowed mismatch for %v", cfg.RAG.AllowedExtensions)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"overlap too large", "rag:\n  chunk_size: 10\n  chunk_overlap: 10\n", "chunk_overlap"},
		{"bad provider", "embed_llm:\n  provider: huggingface\n", "unknown provider"},
		{"bad device", "inference_llm:\n  device: tpu\n", "unknown device"},
		{"short key", "rag:\n  encryption_key: short\n", "encryption_key"},
		{"lambda", "rag:\n  mmr_lambda: 1.5\n", "mmr_lambda"},
		{"yaml", "rag: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigKeysFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-shared")
	t.Setenv("DOCQA_LLM_API_KEY", "sk-llm")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InferenceLLM.Key != "sk-llm" {
		t.Errorf("inference key = %q", cfg.InferenceLLM.Key)
	}
	if cfg.EmbedLLM.Key != "sk-shared" {
		t.Errorf("embed key = %q", cfg.EmbedLLM.Key)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := map[string]string{
		"~":              home,
		"~/cache":        filepath.Join(home, "cache"),
		"$HOME/x/y":      filepath.Join(home, "x/y"),
		"./vector_store": "./vector_store",
		"/abs/path":      "/abs/path",
	}
	for in, want := range tests {
		if got := expandPath(in); got != want {
			t.Errorf("expandPath(%q) = %q, want %q", in, got, want)
		}
	}
}
