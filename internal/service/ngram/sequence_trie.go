package ngram

import (
	"math"
	"sort"
)

// SeqID addresses a node of a SequenceTrie arena. IDs are invalidated by Prune.
type SeqID int32

// NoSequence is the absent sequence
const NoSequence SeqID = -1

const rootSequence SeqID = 0

// seqNode holds the score statistics of one token sequence
type seqNode struct {
	token       TokenID           // Last token of the sequence (NoToken at the root)
	remaining   int32             // Depth budget left below this node
	occurrences int32             // Statements that contained this sequence (once per position)
	retained    int32             // Retained sequences in this subtree, including this node
	sum         float64           // Sum of statement scores
	sqrSum      float64           // Sum of squared statement scores
	children    map[TokenID]SeqID // Children by next token
}

func (n *seqNode) add(score float64) {
	n.occurrences++
	n.sum += score
	n.sqrSum += score * score
}

// SequenceTrie accumulates statement scores for every token run up to maxLength.
// The root accumulates every statement and yields corpus-wide statistics.
type SequenceTrie struct {
	nodes        []seqNode
	maxLength    int
	numSequences int
}

// NewSequenceTrie creates an empty trie for runs of at most maxLength tokens
func NewSequenceTrie(maxLength int) *SequenceTrie {
	return &SequenceTrie{
		nodes:     []seqNode{{token: NoToken, remaining: int32(maxLength)}},
		maxLength: maxLength,
	}
}

// MaxLength returns the longest run tracked
func (s *SequenceTrie) MaxLength() int {
	return s.maxLength
}

// NumSequences returns the number of sequences created since the last prune,
// or retained by it
func (s *SequenceTrie) NumSequences() int {
	return s.numSequences
}

// NumNodes returns the arena size including the root
func (s *SequenceTrie) NumNodes() int {
	return len(s.nodes)
}

func (s *SequenceTrie) child(id SeqID, token TokenID) SeqID {
	if c, ok := s.nodes[id].children[token]; ok {
		return c
	}
	return NoSequence
}

func (s *SequenceTrie) childOrCreate(id SeqID, token TokenID) SeqID {
	if c, ok := s.nodes[id].children[token]; ok {
		return c
	}

	created := SeqID(len(s.nodes))
	s.nodes = append(s.nodes, seqNode{
		token:     token,
		remaining: s.nodes[id].remaining - 1,
	})
	if s.nodes[id].children == nil {
		s.nodes[id].children = make(map[TokenID]SeqID)
	}
	s.nodes[id].children[token] = created
	s.numSequences++
	return created
}

// Add records a statement score against the root and against every run of up
// to maxLength tokens starting at each position of tokens.
func (s *SequenceTrie) Add(tokens []TokenID, score float64) {
	s.nodes[rootSequence].add(score)

	for i := range tokens {
		node := rootSequence
		for j := i; j < len(tokens) && j-i < s.maxLength; j++ {
			node = s.childOrCreate(node, tokens[j])
			s.nodes[node].add(score)
		}
	}
}

// Lookup returns the node of the exact run tokens, if it exists
func (s *SequenceTrie) Lookup(tokens []TokenID) (SeqID, bool) {
	node := rootSequence
	for _, tok := range tokens {
		node = s.child(node, tok)
		if node == NoSequence {
			return NoSequence, false
		}
	}
	return node, true
}

// Occurrences returns the number of scores recorded at id
func (s *SequenceTrie) Occurrences(id SeqID) int {
	return int(s.nodes[id].occurrences)
}

// Mean returns the mean score at id, or 0 without occurrences
func (s *SequenceTrie) Mean(id SeqID) float64 {
	n := &s.nodes[id]
	if n.occurrences == 0 {
		return 0
	}
	return n.sum / float64(n.occurrences)
}

// Variance returns the population variance of scores at id
func (s *SequenceTrie) Variance(id SeqID) float64 {
	n := &s.nodes[id]
	if n.occurrences == 0 {
		return 0
	}
	mean := n.sum / float64(n.occurrences)
	v := n.sqrSum/float64(n.occurrences) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation of scores at id
func (s *SequenceTrie) StdDev(id SeqID) float64 {
	return math.Sqrt(s.Variance(id))
}

// Prune drops every sequence seen fewer than minOccurrence times unless it
// leads to one that was not. Failing nodes that are kept lose their occurrence count.
// The root is never cleared. Returns the number of retained sequences.
func (s *SequenceTrie) Prune(minOccurrence int) int {
	if minOccurrence < 1 {
		minOccurrence = 1
	}
	s.countRetained(rootSequence, int32(minOccurrence))

	compacted := make([]seqNode, 0, s.nodes[rootSequence].retained+1)
	s.compact(rootSequence, &compacted)
	s.nodes = compacted
	s.numSequences = int(s.nodes[rootSequence].retained)
	return s.numSequences
}

func (s *SequenceTrie) countRetained(id SeqID, threshold int32) int32 {
	var retained int32
	for _, c := range s.nodes[id].children {
		retained += s.countRetained(c, threshold)
	}

	n := &s.nodes[id]
	if id == rootSequence {
		n.retained = retained
		return retained
	}
	if n.occurrences >= threshold {
		retained++
	} else {
		n.occurrences = 0
	}
	n.retained = retained
	return retained
}

func (s *SequenceTrie) compact(id SeqID, out *[]seqNode) SeqID {
	old := s.nodes[id]
	newID := SeqID(len(*out))
	old.children = nil
	*out = append(*out, old)

	var children map[TokenID]SeqID
	for _, tok := range s.sortedChildren(id) {
		c := s.nodes[id].children[tok]
		if s.nodes[c].retained == 0 {
			continue
		}
		if children == nil {
			children = make(map[TokenID]SeqID)
		}
		children[tok] = s.compact(c, out)
	}
	(*out)[newID].children = children
	return newID
}

// sortedChildren returns the child keys of id in ascending token order
func (s *SequenceTrie) sortedChildren(id SeqID) []TokenID {
	children := s.nodes[id].children
	keys := make([]TokenID, 0, len(children))
	for tok := range children {
		keys = append(keys, tok)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
