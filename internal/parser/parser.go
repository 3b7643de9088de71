package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

type Parser interface {
	Parse(filePath string) ([]models.Chunk, error)
}

// FileParser picks a reader by file extension and splits the text into
// overlapping chunks.
type FileParser struct {
	chunkSize    int
	chunkOverlap int
}

const (
	defaultChunkSize    = 1000 // chars
	defaultChunkOverlap = 200  // chars
	defaultPageNumber   = 1

	// AugustineExt marks plain-text books split by BOOK and CHAPTER headings.
	AugustineExt = ".aug.txt"
)

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func NewFileParser(cfg *config.RAGConfig) *FileParser {
	p := &FileParser{chunkSize: defaultChunkSize, chunkOverlap: defaultChunkOverlap}
	if cfg != nil {
		if cfg.ChunkSize > 0 {
			p.chunkSize = cfg.ChunkSize
		}
		if cfg.ChunkOverlap > 0 {
			p.chunkOverlap = cfg.ChunkOverlap
		}
	}
	return p
}

// Parse reads filePath and returns its chunks. Files without pages report
// page 1; slides and sheets are numbered from 1.
func (p *FileParser) Parse(filePath string) ([]models.Chunk, error) {
	if strings.HasSuffix(strings.ToLower(filePath), AugustineExt) {
		sections, err := ParseAugustineText(filePath, p.chunkSize, p.chunkOverlap)
		if err != nil {
			return nil, err
		}
		return SectionsToChunks(sections), nil
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return p.parsePDF(filePath)
	case ".docx":
		return p.parseDOCX(filePath)
	case ".pptx":
		return p.parsePPTX(filePath)
	case ".xlsx":
		return p.parseXLSX(filePath)
	case ".ods":
		return p.parseODS(filePath)
	case ".txt":
		return p.parseText(filePath, false)
	case ".md", ".markdown":
		return p.parseText(filePath, true)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func (p *FileParser) parsePDF(filePath string) ([]models.Chunk, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		chunks = append(chunks, p.getChunks(normalizeText(pageText), i)...)
	}
	return chunks, nil
}

func (p *FileParser) parseDOCX(filePath string) ([]models.Chunk, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the raw document XML.
	content := extractTextFromXML(r.Editable().GetContent(), "w:t", "w:p")
	return p.getChunks(normalizeText(content), defaultPageNumber), nil
}

func (p *FileParser) parsePPTX(filePath string) ([]models.Chunk, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var chunks []models.Chunk
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slideText := extractTextFromXML(string(data), "a:t", "a:p")
		chunks = append(chunks, p.getChunks(normalizeText(slideText), s.num)...)
	}
	return chunks, nil
}

func (p *FileParser) parseXLSX(filePath string) ([]models.Chunk, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t") + "\n")
		}
		chunks = append(chunks, p.getChunks(text.String(), sheetNum+1)...)
	}
	return chunks, nil
}

func (p *FileParser) parseODS(filePath string) ([]models.Chunk, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []models.Chunk
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t") + "\n")
		}
		chunks = append(chunks, p.getChunks(text.String(), sheetNum+1)...)
	}
	return chunks, nil
}

func (p *FileParser) parseText(filePath string, markdown bool) ([]models.Chunk, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if markdown {
		content = MarkdownToText(data)
	}
	return p.getChunks(normalizeText(content), defaultPageNumber), nil
}

// extractTextFromXML collects the text runs of an OOXML part. Runs are
// joined by spaces and each paragraph ends a line.
func extractTextFromXML(xmlContent, runTag, paraTag string) string {
	var text strings.Builder
	open, closeRun, closePara := "<"+runTag, "</"+runTag+">", "</"+paraTag+">"

	rest := xmlContent
	for {
		runIdx := strings.Index(rest, open)
		paraIdx := strings.Index(rest, closePara)
		if runIdx < 0 && paraIdx < 0 {
			break
		}
		if paraIdx >= 0 && (runIdx < 0 || paraIdx < runIdx) {
			text.WriteString("\n")
			rest = rest[paraIdx+len(closePara):]
			continue
		}

		rest = rest[runIdx+len(open):]
		gt := strings.Index(rest, ">")
		if gt < 0 {
			break
		}
		attrs := rest[:gt]
		rest = rest[gt+1:]
		// another tag sharing the prefix, or a self-closing run
		if attrs != "" && (attrs[0] != ' ' || strings.HasSuffix(attrs, "/")) {
			continue
		}
		end := strings.Index(rest, closeRun)
		if end < 0 {
			break
		}
		text.WriteString(unescapeXML(rest[:end]))
		rest = rest[end+len(closeRun):]
	}
	return text.String()
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string { return xmlUnescaper.Replace(s) }

var (
	spaceRunRe = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// normalizeText collapses horizontal whitespace and runs of blank lines.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(l, " "))
	}
	return strings.TrimSpace(blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// chunk content into chunks with maxChars and overlapChars
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	runes := []rune(strings.TrimSpace(content))
	contentLen := len(runes)
	if contentLen == 0 {
		return nil
	}
	if contentLen <= maxChars {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < contentLen {
		end := min(start+maxChars, contentLen)

		// prefer breaking on whitespace or a full stop in the last tenth
		if end < contentLen {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if r := runes[i]; r == ' ' || r == '\n' || r == '.' {
					end = i + 1
					break
				}
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= contentLen {
			break
		}
		start += maxChars - overlapChars
	}
	return chunks
}

// get chunks from content and page number
func (p *FileParser) getChunks(content string, pageNumber int) []models.Chunk {
	var chunks []models.Chunk
	for i, chunkString := range chunkContent(content, p.chunkSize, p.chunkOverlap) {
		chunks = append(chunks, models.Chunk{
			Content:    chunkString,
			PageNumber: pageNumber,
			ChunkID:    i + 1,
		})
	}
	return chunks
}
