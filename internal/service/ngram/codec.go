package ngram

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"go.uber.org/zap"
)

// ModelMagic opens every model file
const ModelMagic = "EkoModel"

const (
	headerSize   = 48
	tokenSize    = 22
	sequenceSize = 36
)

// Header is the fixed-size prefix of a model file
type Header struct {
	SequenceCount int32
	LinesAnalyzed int32
	Scale         float64
	Offset        float64
	Params        Params
}

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf, ModelMagic)
	be := binary.BigEndian
	be.PutUint32(buf[8:], uint32(h.SequenceCount))
	be.PutUint32(buf[12:], uint32(h.LinesAnalyzed))
	be.PutUint64(buf[16:], math.Float64bits(h.Scale))
	be.PutUint64(buf[24:], math.Float64bits(h.Offset))
	be.PutUint32(buf[32:], uint32(h.Params.MaxSequenceLength))
	be.PutUint32(buf[36:], uint32(h.Params.MinTokenOccurrence))
	be.PutUint32(buf[40:], uint32(h.Params.PruningInterval))
	be.PutUint32(buf[44:], uint32(h.Params.RenormalizationLines))
	return buf
}

// ReadHeader reads and checks the header of a model file
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, truncated("header", err)
	}
	if string(buf[:8]) != ModelMagic {
		return Header{}, fmt.Errorf("%w: signature %q is not %q", ErrFormat, buf[:8], ModelMagic)
	}

	be := binary.BigEndian
	return Header{
		SequenceCount: int32(be.Uint32(buf[8:])),
		LinesAnalyzed: int32(be.Uint32(buf[12:])),
		Scale:         math.Float64frombits(be.Uint64(buf[16:])),
		Offset:        math.Float64frombits(be.Uint64(buf[24:])),
		Params: Params{
			MaxSequenceLength:    int(int32(be.Uint32(buf[32:]))),
			MinTokenOccurrence:   int(int32(be.Uint32(buf[36:]))),
			PruningInterval:      int(int32(be.Uint32(buf[40:]))),
			RenormalizationLines: int(int32(be.Uint32(buf[44:]))),
		},
	}, nil
}

func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s", ErrFormat, what)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}

// WriteTo serializes a ready model in the big-endian model file layout:
// header, token count, pre-order token tree, pre-order sequence tree.
// Children are written in ascending order, so equal models give equal bytes.
func (m *Model) WriteTo(w io.Writer) (int64, error) {
	if !m.Ready() {
		return 0, ErrNotReady
	}

	cw := &countingWriter{w: bufio.NewWriter(w)}
	header := Header{
		SequenceCount: int32(m.sequences.NumSequences()),
		LinesAnalyzed: int32(m.linesAnalyzed),
		Scale:         m.scale,
		Offset:        m.offset,
		Params:        m.params,
	}
	cw.write(header.encode())

	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(m.tokens.NumTokens()))
	cw.write(count)

	m.writeToken(cw, rootToken, make([]byte, tokenSize))
	m.writeSequence(cw, rootSequence, make([]byte, sequenceSize))

	if cw.err == nil {
		cw.err = cw.w.Flush()
	}
	if cw.err != nil {
		return cw.n, fmt.Errorf("failed to write model: %w", cw.err)
	}
	return cw.n, nil
}

func (m *Model) writeToken(cw *countingWriter, id TokenID, buf []byte) {
	n := &m.tokens.nodes[id]
	be := binary.BigEndian
	be.PutUint16(buf[0:], n.char)
	be.PutUint32(buf[2:], uint32(n.index))
	be.PutUint32(buf[6:], uint32(n.occurrences))
	be.PutUint32(buf[10:], uint32(n.descendants))
	be.PutUint32(buf[14:], uint32(n.retained))
	be.PutUint32(buf[18:], uint32(len(n.children)))
	cw.write(buf)

	for _, c := range n.children {
		m.writeToken(cw, c, buf)
	}
}

func (m *Model) writeSequence(cw *countingWriter, id SeqID, buf []byte) {
	n := &m.sequences.nodes[id]
	tokenIndex := int32(-1)
	if n.token != NoToken {
		tokenIndex = m.tokens.IndexOf(n.token)
	}

	be := binary.BigEndian
	be.PutUint32(buf[0:], uint32(tokenIndex))
	be.PutUint32(buf[4:], uint32(n.remaining))
	be.PutUint32(buf[8:], uint32(n.occurrences))
	be.PutUint32(buf[12:], uint32(n.retained))
	be.PutUint64(buf[16:], math.Float64bits(n.sum))
	be.PutUint64(buf[24:], math.Float64bits(n.sqrSum))
	be.PutUint32(buf[32:], uint32(len(n.children)))
	cw.write(buf)

	children := n.children
	keys := make([]TokenID, 0, len(children))
	for tok := range children {
		keys = append(keys, tok)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.tokens.IndexOf(keys[i]) < m.tokens.IndexOf(keys[j])
	})
	for _, tok := range keys {
		m.writeSequence(cw, children[tok], buf)
	}
}

// countingWriter keeps the first error and the byte count
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (cw *countingWriter) write(p []byte) {
	if cw.err != nil {
		return
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
}

// ReadModel decodes a model file. Any signature, structure or length error
// is reported as ErrFormat and no model is returned.
func ReadModel(r io.Reader, logger *zap.Logger) (*Model, error) {
	br := bufio.NewReader(r)
	header, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}
	if err := header.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	d := &decoder{r: br, buf: make([]byte, sequenceSize)}
	numTokens, err := d.readInt32("token count")
	if err != nil {
		return nil, err
	}

	tokens := &TokenTrie{numTokens: int(numTokens)}
	if err := d.readToken(tokens, NoToken); err != nil {
		return nil, err
	}

	sequences := &SequenceTrie{
		maxLength:    header.Params.MaxSequenceLength,
		numSequences: int(header.SequenceCount),
	}
	if err := d.readSequence(sequences, tokens, true); err != nil {
		return nil, err
	}

	m := &Model{
		params:        header.Params,
		tokens:        tokens,
		sequences:     sequences,
		linesAnalyzed: int(header.LinesAnalyzed),
		scale:         header.Scale,
		offset:        header.Offset,
		logger:        logger,
	}
	m.state.Store(stateReady)
	m.setStatus(StageComplete, 1)
	return m, nil
}

type decoder struct {
	r   *bufio.Reader
	buf []byte
}

func (d *decoder) read(n int, what string) ([]byte, error) {
	b := d.buf[:n]
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, truncated(what, err)
	}
	return b, nil
}

func (d *decoder) readInt32(what string) (int32, error) {
	b, err := d.read(4, what)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *decoder) readToken(t *TokenTrie, parent TokenID) error {
	b, err := d.read(tokenSize, "token")
	if err != nil {
		return err
	}
	be := binary.BigEndian
	node := tokenNode{
		char:        be.Uint16(b[0:]),
		parent:      parent,
		index:       int32(be.Uint32(b[2:])),
		occurrences: int32(be.Uint32(b[6:])),
		descendants: int32(be.Uint32(b[10:])),
		retained:    int32(be.Uint32(b[14:])),
	}
	numChildren := int32(be.Uint32(b[18:]))
	if numChildren < 0 || node.occurrences < 0 || node.descendants < 0 {
		return fmt.Errorf("%w: token %d has negative counts", ErrFormat, node.index)
	}

	id := TokenID(len(t.nodes))
	t.nodes = append(t.nodes, node)
	for i := int32(0); i < numChildren; i++ {
		child := TokenID(len(t.nodes))
		if err := d.readToken(t, id); err != nil {
			return err
		}
		t.nodes[id].children = append(t.nodes[id].children, child)
	}

	children := t.nodes[id].children
	sort.Slice(children, func(i, j int) bool {
		return t.nodes[children[i]].char < t.nodes[children[j]].char
	})
	for i := 1; i < len(children); i++ {
		if t.nodes[children[i]].char == t.nodes[children[i-1]].char {
			return fmt.Errorf("%w: token %d has duplicate children", ErrFormat, node.index)
		}
	}
	return nil
}

func (d *decoder) readSequence(s *SequenceTrie, tokens *TokenTrie, root bool) error {
	b, err := d.read(sequenceSize, "sequence")
	if err != nil {
		return err
	}
	be := binary.BigEndian
	tokenIndex := int32(be.Uint32(b[0:]))
	node := seqNode{
		token:       NoToken,
		remaining:   int32(be.Uint32(b[4:])),
		occurrences: int32(be.Uint32(b[8:])),
		retained:    int32(be.Uint32(b[12:])),
		sum:         math.Float64frombits(be.Uint64(b[16:])),
		sqrSum:      math.Float64frombits(be.Uint64(b[24:])),
	}
	numChildren := int32(be.Uint32(b[32:]))
	if numChildren < 0 || node.occurrences < 0 {
		return fmt.Errorf("%w: sequence has negative counts", ErrFormat)
	}
	if math.IsNaN(node.sum) || math.IsNaN(node.sqrSum) {
		return fmt.Errorf("%w: sequence statistics are NaN", ErrFormat)
	}

	switch {
	case root && tokenIndex != -1:
		return fmt.Errorf("%w: sequence root references token %d", ErrFormat, tokenIndex)
	case !root:
		id, ok := tokens.ByIndex(tokenIndex)
		if !ok || id == rootToken {
			return fmt.Errorf("%w: sequence references unknown token %d", ErrFormat, tokenIndex)
		}
		node.token = id
	}

	id := SeqID(len(s.nodes))
	s.nodes = append(s.nodes, node)
	for i := int32(0); i < numChildren; i++ {
		child := SeqID(len(s.nodes))
		if err := d.readSequence(s, tokens, false); err != nil {
			return err
		}
		tok := s.nodes[child].token
		if s.nodes[id].children == nil {
			s.nodes[id].children = make(map[TokenID]SeqID)
		}
		if _, dup := s.nodes[id].children[tok]; dup {
			return fmt.Errorf("%w: sequence has duplicate children", ErrFormat)
		}
		s.nodes[id].children[tok] = child
	}
	return nil
}
