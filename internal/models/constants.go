package models

const (
	// DefaultStoreName is used when a store is saved or loaded without a name.
	DefaultStoreName = "default"

	GuidanceProcessFirst  = "Please process a document first"
	GuidanceEmptyQuestion = "Please enter a question"
	StatusProcessed       = "Document processed successfully!"

	// ExcerptLength is the number of characters of a source chunk shown in a citation.
	ExcerptLength = 200
	NoPage        = "N/A"

	// Metadata keys stored alongside every indexed chunk.
	MetaSource     = "source"
	MetaPage       = "page"
	MetaStartIndex = "start_index"
	MetaChunkID    = "chunk_id"
)

var (
	// QAPromptTemplate is a Go template with two inputs, context and question.
	QAPromptTemplate = `<|system|>
You are an expert document analyst. Use the context below to answer the question.
Answer only from the context. If the context is not sufficient, say "I don't know".
Provide detailed, professional responses.

Context: {{.context}}</s>
<|user|>
{{.question}}</s>
<|assistant|>
`
)
