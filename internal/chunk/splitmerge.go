package chunk

import "strings"

// splitNode implements the Split pass of the split-merge algorithm (§4.2,
// step 1): depth-first descent, emitting any node that already fits within
// maxTokens, recursing into children of an oversized node that has them,
// and falling back to a line-group split for an oversized node with no
// children (an atomic leaf).
func splitNode(n *CodeNode, maxTokens int) []*CodeNode {
	if estimateTokens(n.Content) <= maxTokens {
		return []*CodeNode{n}
	}

	if len(n.Children) > 0 {
		var out []*CodeNode
		for _, child := range n.Children {
			out = append(out, splitNode(child, maxTokens)...)
		}
		return out
	}

	return splitByLineGroups(n, maxTokens)
}

// splitByLineGroups splits an atomic oversized node into consecutive line
// groups whose cumulative token count stays within maxTokens. Each group
// carries the parent's chunkType and name. A group may still exceed
// maxTokens if it is a single line whose own token count already does —
// that line is emitted alone (atomic-and-line-indivisible, per the
// invariant in §4.2/§8).
func splitByLineGroups(n *CodeNode, maxTokens int) []*CodeNode {
	lines := strings.Split(n.Content, "\n")
	if len(lines) == 0 {
		return nil
	}

	var groups []*CodeNode
	lineStart := 0 // 0-indexed offset into lines

	for lineStart < len(lines) {
		tokens := 0
		end := lineStart
		for end < len(lines) {
			lineTokens := estimateTokens(lines[end])
			if end > lineStart && tokens+lineTokens > maxTokens {
				break
			}
			tokens += lineTokens
			end++
		}
		if end == lineStart {
			end = lineStart + 1 // always make progress even on a single huge line
		}

		content := strings.Join(lines[lineStart:end], "\n")
		groups = append(groups, &CodeNode{
			ChunkType: n.ChunkType,
			Name:      n.Name,
			Content:   content,
			StartLine: n.StartLine + lineStart,
			EndLine:   n.StartLine + end - 1,
		})

		lineStart = end
	}

	return groups
}

// mergeGroup holds a run of adjacent small chunks being accumulated by the
// Merge pass before a decision to finalize is made.
type mergeGroup struct {
	members []*Chunk
}

func (g *mergeGroup) tokens() int {
	return estimateTokens(joinMembers(g.members))
}

func joinMembers(members []*Chunk) string {
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = m.RawContent
	}
	return strings.Join(parts, "\n\n")
}

// mergeSiblings implements the Merge pass of the split-merge algorithm
// (§4.2, step 2): a single left-to-right pass that appends a following
// chunk to the current group when the group is still under minTokens (it
// hasn't yet absorbed enough to stand on its own), doing so keeps the
// combined token count within maxTokens, and the gap between the group's
// last line and the next chunk's first line is at most 3 lines. A group
// that has already reached minTokens is left alone even if it could still
// absorb more — merging exists to consolidate small fragments, not to
// pack every chunk up to maxTokens. The current group is finalized (merged
// if it has ≥2 members) once it stops absorbing, and a new group starts.
func mergeSiblings(chunks []*Chunk, maxTokens, minTokens int) []*Chunk {
	if len(chunks) == 0 {
		return chunks
	}

	var out []*Chunk
	group := &mergeGroup{members: []*Chunk{chunks[0]}}

	for _, next := range chunks[1:] {
		last := group.members[len(group.members)-1]
		gap := next.StartLine - last.EndLine

		candidate := append(append([]*Chunk{}, group.members...), next)
		combinedTokens := estimateTokens(joinMembers(candidate))

		if group.tokens() < minTokens && combinedTokens <= maxTokens && gap <= 3 {
			group.members = candidate
			continue
		}

		out = append(out, finalizeGroup(group)...)
		group = &mergeGroup{members: []*Chunk{next}}
	}
	out = append(out, finalizeGroup(group)...)

	return out
}

// finalizeGroup emits the group's single chunk unchanged if it has only
// one member, or a merged chunk (step 3 of §4.2) if it has two or more.
func finalizeGroup(g *mergeGroup) []*Chunk {
	if len(g.members) < 2 {
		return g.members
	}

	first := g.members[0]
	last := g.members[len(g.members)-1]

	names := make([]string, 0, len(g.members))
	rawParts := make([]string, len(g.members))
	for i, m := range g.members {
		rawParts[i] = m.RawContent
		if m.Symbols != nil {
			for _, s := range m.Symbols {
				names = append(names, s.Name)
			}
		}
	}

	merged := &Chunk{
		ID:          generateChunkID(first.FilePath, first.StartLine, last.EndLine),
		FilePath:    first.FilePath,
		RawContent:  strings.Join(rawParts, "\n\n"),
		Context:     first.Context,
		ContentType: first.ContentType,
		Language:    first.Language,
		StartLine:   first.StartLine,
		EndLine:     last.EndLine,
		Metadata:    make(map[string]string),
		CreatedAt:   first.CreatedAt,
		UpdatedAt:   first.UpdatedAt,
	}
	merged.Content = combineContextAndContent(merged.Context, merged.RawContent)
	if len(names) > 0 {
		merged.Symbols = []*Symbol{{
			Name:      strings.Join(names, ", "),
			Type:      first.symbolTypeOrDefault(),
			StartLine: merged.StartLine,
			EndLine:   merged.EndLine,
		}}
	}

	return []*Chunk{merged}
}

// symbolTypeOrDefault returns the chunk's first symbol type, defaulting to
// SymbolTypeFunction when the chunk carries no symbol (e.g. a line-group
// split of an atomic leaf).
func (c *Chunk) symbolTypeOrDefault() SymbolType {
	if len(c.Symbols) > 0 {
		return c.Symbols[0].Type
	}
	return SymbolTypeFunction
}
