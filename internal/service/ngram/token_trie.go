package ngram

import (
	"sort"
)

// TokenID addresses a node of a TokenTrie arena. IDs are invalidated by Prune.
type TokenID int32

// NoToken is the absent token
const NoToken TokenID = -1

// rootToken is the arena slot of the empty word
const rootToken TokenID = 0

// tokenNode is one character of the dictionary
type tokenNode struct {
	char        uint16    // Character leading to this node (0 at the root)
	parent      TokenID   // Parent node (NoToken at the root)
	children    []TokenID // Children sorted by char
	occurrences int32     // Times seen as a whole word
	retained    int32     // Real words in this subtree, including this node
	index       int32     // Pre-order index assigned by Index
	descendants int32     // Nodes below this one in pre-order
}

// TokenTrie is a character trie of whitespace-delimited words
type TokenTrie struct {
	nodes     []tokenNode // Node arena, root at slot 0
	numTokens int         // Real words in the trie
}

// NewTokenTrie creates an empty dictionary
func NewTokenTrie() *TokenTrie {
	return &TokenTrie{
		nodes: []tokenNode{{parent: NoToken}},
	}
}

// NumTokens returns the number of distinct words with at least one occurrence
func (t *TokenTrie) NumTokens() int {
	return t.numTokens
}

// NumNodes returns the arena size including the root
func (t *TokenTrie) NumNodes() int {
	return len(t.nodes)
}

// child returns the child of id reached by c, or NoToken
func (t *TokenTrie) child(id TokenID, c uint16) TokenID {
	children := t.nodes[id].children
	i := sort.Search(len(children), func(i int) bool {
		return t.nodes[children[i]].char >= c
	})
	if i < len(children) && t.nodes[children[i]].char == c {
		return children[i]
	}
	return NoToken
}

// childOrCreate returns the child of id reached by c, creating it in sorted position
func (t *TokenTrie) childOrCreate(id TokenID, c uint16) TokenID {
	children := t.nodes[id].children
	i := sort.Search(len(children), func(i int) bool {
		return t.nodes[children[i]].char >= c
	})
	if i < len(children) && t.nodes[children[i]].char == c {
		return children[i]
	}

	created := TokenID(len(t.nodes))
	t.nodes = append(t.nodes, tokenNode{char: c, parent: id, index: -1})

	children = append(children, NoToken)
	copy(children[i+1:], children[i:])
	children[i] = created
	t.nodes[id].children = children
	return created
}

// walk follows word from the root, returning NoToken on the first mismatch
func (t *TokenTrie) walk(word string) TokenID {
	node := rootToken
	for _, r := range word {
		if r > 0xFFFF {
			return NoToken
		}
		node = t.child(node, uint16(r))
		if node == NoToken {
			return NoToken
		}
	}
	return node
}

// Learn counts every word of text. Text is sanitized first.
func (t *TokenTrie) Learn(text string) {
	t.learnSanitized(Sanitize(text))
}

func (t *TokenTrie) learnSanitized(sanitized string) {
	for _, word := range words(sanitized) {
		node := rootToken
		for _, r := range word {
			// sanitized words are ASCII
			node = t.childOrCreate(node, uint16(r))
		}

		n := &t.nodes[node]
		n.occurrences++
		if n.occurrences == 1 {
			t.numTokens++
		}
	}
}

// Tokenize converts text into the known words it contains, in order.
// Unknown words are skipped.
func (t *TokenTrie) Tokenize(text string) []TokenID {
	ws := words(Sanitize(text))
	tokens := make([]TokenID, 0, len(ws))
	for _, word := range ws {
		if id := t.walk(word); id != NoToken && t.nodes[id].occurrences > 0 {
			tokens = append(tokens, id)
		}
	}
	return tokens
}

// Lookup returns the token of word if word is a real word of the dictionary
func (t *TokenTrie) Lookup(word string) (TokenID, bool) {
	id := t.walk(word)
	if id == NoToken || id == rootToken || t.nodes[id].occurrences == 0 {
		return NoToken, false
	}
	return id, true
}

// Occurrences returns how often the word at id was learned
func (t *TokenTrie) Occurrences(id TokenID) int {
	return int(t.nodes[id].occurrences)
}

// Word reconstructs the text of id from its ancestors
func (t *TokenTrie) Word(id TokenID) string {
	var chars []rune
	for ; id != NoToken && id != rootToken; id = t.nodes[id].parent {
		chars = append(chars, rune(t.nodes[id].char))
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars)
}

// Prune drops every word seen fewer than minOccurrence times. Nodes that are
// only prefixes of surviving words stay with zero occurrences. The arena is
// rebuilt in pre-order, so all previously returned TokenIDs become invalid.
func (t *TokenTrie) Prune(minOccurrence int) {
	if minOccurrence < 1 {
		minOccurrence = 1
	}
	t.countRetained(rootToken, int32(minOccurrence))

	compacted := make([]tokenNode, 0, t.nodes[rootToken].retained+1)
	t.compact(rootToken, NoToken, &compacted)
	t.nodes = compacted
	t.numTokens = int(t.nodes[rootToken].retained)
	t.Index()
}

// countRetained computes retained counts bottom-up and clears failing occurrences
func (t *TokenTrie) countRetained(id TokenID, threshold int32) int32 {
	var retained int32
	for _, c := range t.nodes[id].children {
		retained += t.countRetained(c, threshold)
	}

	n := &t.nodes[id]
	if id != rootToken && n.occurrences >= threshold {
		retained++
	} else {
		n.occurrences = 0
	}
	n.retained = retained
	return retained
}

func (t *TokenTrie) compact(id, parent TokenID, out *[]tokenNode) TokenID {
	old := t.nodes[id]
	newID := TokenID(len(*out))
	*out = append(*out, tokenNode{
		char:        old.char,
		parent:      parent,
		occurrences: old.occurrences,
		retained:    old.retained,
	})

	var children []TokenID
	for _, c := range old.children {
		if t.nodes[c].retained == 0 {
			continue
		}
		children = append(children, t.compact(c, newID, out))
	}
	(*out)[newID].children = children
	return newID
}

// Index assigns pre-order indices starting with 0 at the root and records
// the descendant count of every node, so the subtree of a node occupies
// [index, index+descendants].
func (t *TokenTrie) Index() {
	t.assignIndex(rootToken, 0)
}

func (t *TokenTrie) assignIndex(id TokenID, next int32) int32 {
	t.nodes[id].index = next
	start := next
	next++
	for _, c := range t.nodes[id].children {
		next = t.assignIndex(c, next)
	}
	t.nodes[id].descendants = next - start - 1
	return next
}

// IndexOf returns the pre-order index of id as of the last Index
func (t *TokenTrie) IndexOf(id TokenID) int32 {
	return t.nodes[id].index
}

// ByIndex finds the node holding a pre-order index by descending into the
// unique child whose index interval contains it.
func (t *TokenTrie) ByIndex(index int32) (TokenID, bool) {
	node := rootToken
	for {
		n := &t.nodes[node]
		if n.index == index {
			return node, true
		}

		next := NoToken
		for _, c := range n.children {
			cn := &t.nodes[c]
			if cn.index <= index && index <= cn.index+cn.descendants {
				next = c
				break
			}
		}
		if next == NoToken {
			return NoToken, false
		}
		node = next
	}
}
