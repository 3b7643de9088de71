package models

const (
	// NotFoundMarker fills the context slot when retrieval produced nothing.
	NotFoundMarker = "본문에는 없습니다."
	// FallbackAnswer is recorded as the assistant turn when generation fails.
	FallbackAnswer = "오류가 발생했습니다."

	PassageSeparator = "\n\n"

	BookRegex    = `^BOOK\s+([IVXLC]+)\.?\s*$`
	ChapterRegex = `^CHAPTER\s+([IVXLC]+)\.?\s*(.*)$`
	StartRegex   = `^\*\*\* ?START OF (THE|THIS) PROJECT GUTENBERG`
	EndRegex     = `^\*\*\* ?END OF (THE|THIS) PROJECT GUTENBERG`
	ThinkTag     = `(?s)<think>.*?(?:</think>|$)`
)

var (
	// RAGPromptTemplate takes the context block and the user question.
	RAGPromptTemplate = `
[Context: Augustine 문헌 발췌]
%s

(주의: 위 context 내용만 참고하여 답하라.
context에 없는 내용은 반드시 "본문에는 없습니다."라고 답할 것.)

질문: %s
`

	ContextPromptTemplate = `<document>
%s
</document>
Here is the chunk we want to situate within the whole document
<chunk>
%s
</chunk>
Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.
`
)
