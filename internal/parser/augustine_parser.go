package parser

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"augustine-rag/internal/models"

	"github.com/rs/zerolog/log"
)

// AugustineSection is one chunk of a chapter of a plain-text book.
type AugustineSection struct {
	Book    string `json:"book"`
	Chapter string `json:"chapter"`
	Title   string `json:"title"`
	Content string `json:"content"`
	ChunkID int    `json:"chunk_id"`
}

type augustineParserState struct {
	book, chapter, title string
	content              []string
	result               []AugustineSection
	chunkSize, overlap   int
}

var (
	bookRe    = regexp.MustCompile(models.BookRegex)
	chapterRe = regexp.MustCompile(models.ChapterRegex)
	startRe   = regexp.MustCompile(models.StartRegex)
	endRe     = regexp.MustCompile(models.EndRegex)
)

// ParseAugustineText splits a book into sections by BOOK and CHAPTER
// headings. Text before the first heading, and the Project Gutenberg header
// and licence, are skipped.
func ParseAugustineText(input string, chunkSize, overlap int) ([]AugustineSection, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap <= 0 {
		overlap = defaultChunkOverlap
	}
	state := augustineParserState{chunkSize: chunkSize, overlap: overlap}

	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", input, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if startRe.MatchString(line) {
			// anything seen so far was the header
			state = augustineParserState{chunkSize: chunkSize, overlap: overlap}
			continue
		}
		if endRe.MatchString(line) {
			break
		}
		processAugustineLine(line, &state)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", input, err)
	}
	flushSection(&state)

	log.Debug().Str("file", input).Int("sections", len(state.result)).Msg("Parsed book")
	return state.result, nil
}

// processAugustineLine handles a single line, updating the parser state.
func processAugustineLine(line string, state *augustineParserState) {
	if m := bookRe.FindStringSubmatch(line); m != nil {
		flushSection(state)
		state.book = m[1]
		state.chapter, state.title = "", ""
		return
	}
	if m := chapterRe.FindStringSubmatch(line); m != nil {
		flushSection(state)
		state.chapter = m[1]
		state.title = strings.TrimSpace(m[2])
		return
	}
	if state.book == "" && state.chapter == "" {
		return
	}
	// a blank line closes a paragraph
	if line == "" {
		if n := len(state.content); n > 0 && state.content[n-1] != "" {
			state.content = append(state.content, "")
		}
		return
	}
	state.content = append(state.content, line)
}

// flushSection chunks the accumulated text of the current chapter.
func flushSection(state *augustineParserState) {
	defer func() { state.content = state.content[:0] }()

	var paragraphs []string
	var para []string
	for _, l := range append(state.content, "") {
		if l == "" {
			if len(para) > 0 {
				paragraphs = append(paragraphs, strings.Join(para, " "))
				para = para[:0]
			}
			continue
		}
		para = append(para, l)
	}
	content := strings.Join(paragraphs, "\n\n")
	if content == "" {
		return
	}

	for i, chunk := range chunkContent(content, state.chunkSize, state.overlap) {
		state.result = append(state.result, AugustineSection{
			Book:    state.book,
			Chapter: state.chapter,
			Title:   state.title,
			Content: chunk,
			ChunkID: i + 1,
		})
	}
}

// SectionsToChunks converts sections to chunks. The page number is the
// book number and the section key is "book.chapter".
func SectionsToChunks(sections []AugustineSection) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(sections))
	for _, s := range sections {
		meta := map[string]string{
			"book":    s.Book,
			"chapter": s.Chapter,
			"section": s.Book + "." + s.Chapter,
		}
		if s.Title != "" {
			meta["title"] = s.Title
		}
		chunks = append(chunks, models.Chunk{
			Content:    s.Content,
			PageNumber: max(romanToInt(s.Book), defaultPageNumber),
			ChunkID:    s.ChunkID,
			Metadata:   meta,
		})
	}
	return chunks
}

var romanValues = map[byte]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100}

// romanToInt returns 0 for anything that is not a roman numeral up to C.
func romanToInt(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	total := 0
	for i := 0; i < len(s); i++ {
		v, ok := romanValues[s[i]]
		if !ok {
			return 0
		}
		if i+1 < len(s) && romanValues[s[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	return total
}
