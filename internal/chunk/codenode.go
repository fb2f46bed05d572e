package chunk

// CodeNode is the chunker's input tree element: a language-neutral view of
// a parsed declaration, independent of any particular tree-sitter grammar.
// chunkType is one of {file,function,method,class,module,interface,type,block}.
type CodeNode struct {
	ChunkType string
	Name      string
	Content   string
	StartLine int // 1-indexed
	EndLine   int // inclusive
	StartChar int
	EndChar   int
	Children  []*CodeNode
}

// symbolChunkType maps a SymbolType to the chunker's chunkType vocabulary.
// Constants and variables have no dedicated chunkType in the data model, so
// they fall back to "block".
func symbolChunkType(t SymbolType) string {
	switch t {
	case SymbolTypeFunction:
		return "function"
	case SymbolTypeMethod:
		return "method"
	case SymbolTypeClass:
		return "class"
	case SymbolTypeInterface:
		return "interface"
	case SymbolTypeType:
		return "type"
	default:
		return "block"
	}
}

// buildCodeTree converts a parsed file into a CodeNode tree rooted at a
// "file" node. Direct children are the file's top-level declarations;
// class/interface nodes additionally carry their nested methods as
// children, which is what lets the split pass recurse into an oversized
// class instead of falling straight to line-splitting.
func buildCodeTree(tree *Tree, source []byte, extractor *SymbolExtractor, config *LanguageConfig, language string) *CodeNode {
	root := &CodeNode{
		ChunkType: "file",
		Content:   string(source),
		StartLine: 1,
		EndLine:   int(tree.Root.EndPoint.Row) + 1,
		StartChar: 0,
		EndChar:   len(source),
	}

	symbolTypes := buildSymbolTypeIndex(config)

	for _, child := range tree.Root.Children {
		node := classifyTopLevel(child, source, extractor, config, symbolTypes, language)
		if node != nil {
			root.Children = append(root.Children, node)
		}
	}

	return root
}

func buildSymbolTypeIndex(config *LanguageConfig) map[string]SymbolType {
	idx := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		idx[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		idx[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		idx[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		idx[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		idx[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		idx[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		idx[t] = SymbolTypeVariable
	}
	return idx
}

// classifyTopLevel turns a single top-level AST node into a CodeNode, or
// returns nil if the node carries no symbol (import/package glue, stray
// punctuation tokens, etc). Class/interface nodes get their method
// children attached so the split pass can recurse into them.
func classifyTopLevel(n *Node, source []byte, extractor *SymbolExtractor, config *LanguageConfig, symbolTypes map[string]SymbolType, language string) *CodeNode {
	symType, isSymbol := symbolTypes[n.Type]

	var name string
	if !isSymbol {
		if sym := extractor.extractSpecialSymbol(n, source, language); sym != nil {
			name = sym.Name
			symType = SymbolTypeFunction
			isSymbol = true
		}
	} else {
		name = extractor.extractName(n, source, config, language)
	}

	if !isSymbol || name == "" {
		return nil
	}

	node := &CodeNode{
		ChunkType: symbolChunkType(symType),
		Name:      name,
		Content:   n.GetContent(source),
		StartLine: int(n.StartPoint.Row) + 1,
		EndLine:   int(n.EndPoint.Row) + 1,
		StartChar: int(n.StartByte),
		EndChar:   int(n.EndByte),
	}

	if symType == SymbolTypeClass || symType == SymbolTypeInterface {
		node.Children = findNestedMethods(n, source, extractor, config, language)
	}

	return node
}

// findNestedMethods recursively locates method-typed descendants of a
// class/interface body (used by languages where methods live inside the
// class node rather than at file top level, e.g. JS/TS/Python).
func findNestedMethods(classNode *Node, source []byte, extractor *SymbolExtractor, config *LanguageConfig, language string) []*CodeNode {
	var methods []*CodeNode

	var walk func(n *Node)
	walk = func(n *Node) {
		for _, child := range n.Children {
			isMethod := false
			for _, mt := range config.MethodTypes {
				if child.Type == mt {
					isMethod = true
					break
				}
			}
			if isMethod {
				name := extractor.extractName(child, source, config, language)
				if name != "" {
					methods = append(methods, &CodeNode{
						ChunkType: "method",
						Name:      name,
						Content:   child.GetContent(source),
						StartLine: int(child.StartPoint.Row) + 1,
						EndLine:   int(child.EndPoint.Row) + 1,
						StartChar: int(child.StartByte),
						EndChar:   int(child.EndByte),
					})
				}
				continue // don't descend into a method looking for more methods
			}
			walk(child)
		}
	}
	walk(classNode)

	return methods
}
