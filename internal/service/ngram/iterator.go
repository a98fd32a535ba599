package ngram

// iterFrame is a node whose children are being visited
type iterFrame struct {
	node   TokenID
	cursor int
}

// TokenIterator walks the real words of a TokenTrie in pre-order
// (alphabetical order). It is lazy and can be restarted with Reset.
//
//	it := trie.Iterator()
//	for it.Next() {
//		fmt.Println(trie.Word(it.Token()))
//	}
type TokenIterator struct {
	trie    *TokenTrie
	stack   []iterFrame
	current TokenID
}

// Iterator returns an iterator positioned before the first word
func (t *TokenTrie) Iterator() *TokenIterator {
	it := &TokenIterator{trie: t}
	it.Reset()
	return it
}

// Reset rewinds the iterator to the start
func (it *TokenIterator) Reset() {
	it.stack = append(it.stack[:0], iterFrame{node: rootToken})
	it.current = NoToken
}

// Next advances to the next real word and reports whether there is one
func (it *TokenIterator) Next() bool {
	nodes := it.trie.nodes
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		children := nodes[top.node].children
		if top.cursor == len(children) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		child := children[top.cursor]
		top.cursor++
		it.stack = append(it.stack, iterFrame{node: child})
		if nodes[child].occurrences > 0 {
			it.current = child
			return true
		}
	}
	it.current = NoToken
	return false
}

// Token returns the word found by the last successful Next
func (it *TokenIterator) Token() TokenID {
	return it.current
}

// Vocabulary lists up to limit real words in pre-order. A non-positive limit lists all.
func (t *TokenTrie) Vocabulary(limit int) []string {
	var out []string
	it := t.Iterator()
	for it.Next() {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, t.Word(it.Token()))
	}
	return out
}
