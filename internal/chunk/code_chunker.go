package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CodeChunkerOptions configures the code chunker behavior.
type CodeChunkerOptions struct {
	MaxChunkTokens int  // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	MinChunkTokens int  // Minimum tokens before a chunk is eligible to absorb siblings (default: MinChunkTokens)
	MergeSiblings  bool // Whether to run the Merge pass after Split (default: true)
}

// CodeChunker implements the split-merge AST chunking algorithm on top of
// tree-sitter parse trees.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options
// (maxTokens, minTokens from package defaults, sibling merging on).
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{MergeSiblings: true})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.MinChunkTokens == 0 {
		opts.MinChunkTokens = MinChunkTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks using the split-then-merge
// algorithm (§4.2): Split descends the Code Node tree emitting any node
// already within maxTokens and subdividing oversized ones (recursing into
// children, or line-splitting an atomic leaf); Merge then does a single
// left-to-right pass consolidating small adjacent chunks that are within
// 3 lines of each other.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	config, supported := c.registry.GetByName(file.Language)
	if !supported {
		return c.chunkByLines(file)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return c.chunkByLines(file)
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	root := buildCodeTree(tree, file.Content, c.extractor, config, file.Language)
	if len(root.Children) == 0 {
		return nil, nil
	}

	now := time.Now()
	var split []*CodeNode
	for _, child := range root.Children {
		split = append(split, splitNode(child, c.options.MaxChunkTokens)...)
	}

	chunks := make([]*Chunk, 0, len(split))
	for _, node := range split {
		chunks = append(chunks, c.toChunk(node, file, fileContext, now))
	}

	if c.options.MergeSiblings {
		chunks = mergeSiblings(chunks, c.options.MaxChunkTokens, c.options.MinChunkTokens)
	}

	return chunks, nil
}

// toChunk converts a CodeNode produced by the Split pass into a Chunk.
func (c *CodeChunker) toChunk(node *CodeNode, file *FileInput, fileContext string, now time.Time) *Chunk {
	symbol := &Symbol{
		Name:      node.Name,
		Type:      chunkTypeToSymbolType(node.ChunkType),
		StartLine: node.StartLine,
		EndLine:   node.EndLine,
	}

	return &Chunk{
		ID:          generateChunkID(file.Path, node.StartLine, node.EndLine),
		FilePath:    file.Path,
		Content:     combineContextAndContent(fileContext, node.Content),
		RawContent:  node.Content,
		Context:     fileContext,
		ContentType: ContentTypeCode,
		Language:    file.Language,
		StartLine:   node.StartLine,
		EndLine:     node.EndLine,
		Symbols:     []*Symbol{symbol},
		Metadata:    map[string]string{"chunkType": node.ChunkType, "granularity": "split-merge"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func chunkTypeToSymbolType(chunkType string) SymbolType {
	switch chunkType {
	case "function":
		return SymbolTypeFunction
	case "method":
		return SymbolTypeMethod
	case "class":
		return SymbolTypeClass
	case "interface":
		return SymbolTypeInterface
	case "type":
		return SymbolTypeType
	default:
		return SymbolTypeFunction
	}
}

// extractFileContext extracts package declaration and imports from a file.
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source)
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

// chunkByLines is the fallback for unsupported languages: no AST, so there
// is no Code Node tree to split-merge — emit fixed-size line windows
// directly as atomic chunks (equivalent to Split immediately hitting the
// atomic-leaf case on the whole file).
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	root := &CodeNode{
		ChunkType: "file",
		Content:   content,
		StartLine: 1,
		EndLine:   strings.Count(content, "\n") + 1,
	}

	now := time.Now()
	groups := splitByLineGroups(root, c.options.MaxChunkTokens)
	chunks := make([]*Chunk, 0, len(groups))
	for _, g := range groups {
		chunks = append(chunks, &Chunk{
			ID:          generateChunkID(file.Path, g.StartLine, g.EndLine),
			FilePath:    file.Path,
			Content:     g.Content,
			RawContent:  g.Content,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   g.StartLine,
			EndLine:     g.EndLine,
			Metadata:    map[string]string{"granularity": "line-fallback"},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if c.options.MergeSiblings {
		chunks = mergeSiblings(chunks, c.options.MaxChunkTokens, c.options.MinChunkTokens)
	}

	return chunks, nil
}

// generateChunkID derives a stable chunk id from (path, startLine, endLine).
// Equal (path, span) always yields the equal id (§3: "equal (path, span) ⇒
// equal id"); the id is otherwise opaque.
func generateChunkID(filePath string, startLine, endLine int) string {
	input := fmt.Sprintf("%s:%d:%d", filePath, startLine, endLine)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// combineContextAndContent combines context and raw content into full content.
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// enrichContextWithFilePath prepends a file path marker to the context.
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
