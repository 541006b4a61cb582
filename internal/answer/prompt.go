package answer

import (
	"fmt"
	"strings"

	"github.com/kbsync/kbsync/internal/tracker"
	"github.com/kbsync/kbsync/internal/vectorindex"
)

const answerPromptTemplate = `You are a knowledge-base assistant. Answer the question using ONLY the reference material below. If the material does not cover the question, say so instead of guessing.

Reference material:
%s
%sQuestion: %s

Answer concisely. Entries marked [confirmed] were verified by a human and override anything that contradicts them.`

// buildPrompt renders the retrieval hits into the answering prompt.
// Metadata question/answer fields are preferred over raw document content
// because they survive reformatting of the embedded text.
func buildPrompt(question, threadContext string, hits []vectorindex.Result) string {
	var refs strings.Builder
	for i, hit := range hits {
		meta := hit.Document.Metadata

		q, a := meta["question"], meta["answer"]
		entry := hit.Document.Content
		if q != "" && a != "" {
			entry = fmt.Sprintf("Q: %s\nA: %s", q, a)
		}

		marker := ""
		if meta["type"] == tracker.DocTypeConfirmed {
			marker = " [confirmed]"
		}
		fmt.Fprintf(&refs, "--- Reference %d%s ---\n%s\n", i+1, marker, entry)
	}

	thread := ""
	if threadContext != "" {
		thread = fmt.Sprintf("\nConversation so far:\n%s\n\n", threadContext)
	}

	return fmt.Sprintf(answerPromptTemplate, refs.String(), thread, question)
}
