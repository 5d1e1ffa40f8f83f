package rag

import (
	"strings"

	"pdfchat/internal/domain"
)

const contextualizePrompt = "Given a chat history and the latest user question, " +
	"which might reference context in the chat history, " +
	"formulate a standalone question which can be understood " +
	"without the chat history. Do not answer the question, " +
	"just reformulate it if needed; otherwise, return it as is."

const answerPrompt = "You are an assistant for question-answering tasks. " +
	"Use the following pieces of retrieved context to answer the question. " +
	"If you don't know the answer, say that you don't know. " +
	"Use three sentences maximum and keep the answer concise.\n\n"

// ContextualizePrompt is the system instruction used to rewrite follow-ups.
func ContextualizePrompt() string { return contextualizePrompt }

// AnswerPrompt stuffs the passages, separated by blank lines, under the answering instruction.
func AnswerPrompt(passages []domain.SearchResult) string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Chunk.Text
	}
	return answerPrompt + strings.Join(texts, "\n\n")
}
