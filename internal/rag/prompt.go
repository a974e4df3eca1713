package rag

import (
	"strings"

	"github.com/alexmaze/aimemos/internal/prompt"
)

// systemPromptTemplate is the fixed instruction ChatPipeline prepends to
// every turn. {{context_instruction}} is filled by SystemPrompt; when no
// context was retrieved the model is not told to expect grounding material.
const systemPromptTemplate = `You are a helpful assistant answering questions about the user's personal knowledge base.
{{context_instruction}}`

const withContextInstruction = "Answer using only the information in the CONTEXT section below. If the answer is not contained in it, say you don't know."
const withoutContextInstruction = "No retrieved context is available for this conversation; answer from the conversation alone."

// SystemPrompt renders the fixed RAG system prompt, varying only the
// instruction sentence depending on whether retrieval produced context.
func SystemPrompt(hasContext bool) string {
	instruction := withoutContextInstruction
	if hasContext {
		instruction = withContextInstruction
	}
	rendered, err := prompt.Render(systemPromptTemplate, map[string]string{"context_instruction": instruction})
	if err != nil {
		return strings.TrimSpace(systemPromptTemplate)
	}
	return strings.TrimSpace(rendered)
}

// BuildContextBlock concatenates retrieved chunk contents, each prefixed
// by a header naming its source document, separated by blank lines.
func BuildContextBlock(sources []ContextSource) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Source: ")
		b.WriteString(s.DocName)
		b.WriteString("\n")
		b.WriteString(s.Content)
	}
	return b.String()
}

// ContextSource is one retrieval hit used to build both the context
// block fed to the LLM and the rag_sources recorded on the reply.
type ContextSource struct {
	DocName string
	DocID   string
	Content string
	Score   float64
}
