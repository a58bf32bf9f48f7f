package generation

import (
	"fmt"
	"strings"

	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

// PromptVersion is recorded with every response so answers can be traced
// back to the prompt that produced them.
const PromptVersion = "v1"

const systemPromptTemplate = `You are a helpful educational assistant for students reading "%s".

Your task is to answer student questions ONLY using the provided context from the book.

Rules:
1. Answer ONLY from the context provided below
2. Include source references in your answer (chapter and section)
3. If the context doesn't contain the answer, respond: "I don't have enough information in the retrieved sections to answer this question accurately. Could you try rephrasing or asking about a topic covered in the book?"
4. Do NOT use external knowledge or make assumptions
5. Keep answers concise (2-3 paragraphs maximum) and maintain an encouraging, educational tone

Context:
%s`

// FormatChunks renders retrieved chunks as tagged context blocks.
func FormatChunks(chunks []vectordb.ScoredPoint) string {
	var b strings.Builder
	for i, c := range chunks {
		chapter := c.PayloadString("chapter_title", "Unknown Chapter")
		section := c.PayloadString("section", "Unknown Section")
		fmt.Fprintf(&b, "[Source %d - Chapter %s, Section %s]\n%s\n\n",
			i+1, chapter, section, c.PayloadString("content", ""))
	}
	return strings.TrimRight(b.String(), "\n")
}

// SystemPrompt assembles the full grounding prompt for a book and its
// retrieved context.
func SystemPrompt(bookTitle string, chunks []vectordb.ScoredPoint) string {
	return fmt.Sprintf(systemPromptTemplate, bookTitle, FormatChunks(chunks))
}
