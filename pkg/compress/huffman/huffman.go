// Package huffman builds canonical Huffman code trees from per-length counts.
package huffman

import (
	"errors"
	"fmt"
	"sort"
)

// MaxCodeLength is the longest code length a table may declare.
const MaxCodeLength = 16

var (
	// ErrInvalidCode means the bit sequence walked into a missing branch.
	ErrInvalidCode = errors.New("huffman: invalid code")
	// ErrInvalidTable means the counts and symbols cannot form a prefix code.
	ErrInvalidTable = errors.New("huffman: invalid table")
)

const none = -1

// Node is an arena entry. Internal nodes address children by index,
// leaves carry a symbol.
type Node struct {
	Left, Right int32
	Symbol      uint8
	Leaf        bool
}

// Table is a code tree stored as an index addressed arena. Node 0 is the root.
type Table struct {
	Nodes  []Node
	counts [MaxCodeLength]uint8
	syms   []byte
}

// BitSource yields one bit at a time, earliest bit first.
type BitSource interface {
	ReadBit() (uint32, error)
}

// Code is the bit pattern assigned to a symbol.
type Code struct {
	Bits uint16
	Len  uint8
}

// Build constructs the tree by frontier doubling. counts[d-1] is the number
// of codes of length d, symbols are ordered by code length.
func Build(counts [MaxCodeLength]uint8, symbols []byte) (*Table, error) {
	total := 0
	for _, c := range counts {
		total += int(c)
	}
	if total != len(symbols) {
		return nil, fmt.Errorf("huffman: counts sum to %d but %d symbols given: %w", total, len(symbols), ErrInvalidTable)
	}
	t := &Table{
		Nodes:  make([]Node, 1, 2*len(symbols)+1),
		counts: counts,
		syms:   append([]byte(nil), symbols...),
	}
	t.Nodes[0] = Node{Left: none, Right: none}
	frontier := []int32{0}
	next := 0
	for d := 0; d < MaxCodeLength && next < len(symbols); d++ {
		children := make([]int32, 0, 2*len(frontier))
		for _, parent := range frontier {
			l := t.add()
			r := t.add()
			t.Nodes[parent].Left = l
			t.Nodes[parent].Right = r
			children = append(children, l, r)
		}
		n := int(counts[d])
		if n > len(children) {
			return nil, fmt.Errorf("huffman: %d codes of length %d exceed %d free slots: %w", n, d+1, len(children), ErrInvalidTable)
		}
		for i := 0; i < n; i++ {
			leaf := &t.Nodes[children[i]]
			leaf.Leaf = true
			leaf.Symbol = symbols[next]
			next++
		}
		frontier = children[n:]
	}
	return t, nil
}

func (t *Table) add() int32 {
	t.Nodes = append(t.Nodes, Node{Left: none, Right: none})
	return int32(len(t.Nodes) - 1)
}

// Decode walks from the root one bit at a time until it reaches a leaf.
func (t *Table) Decode(src BitSource) (uint8, error) {
	idx := int32(0)
	for depth := 0; depth < MaxCodeLength; depth++ {
		bit, err := src.ReadBit()
		if err != nil {
			return 0, err
		}
		n := &t.Nodes[idx]
		if bit == 0 {
			idx = n.Left
		} else {
			idx = n.Right
		}
		if idx == none {
			return 0, ErrInvalidCode
		}
		if t.Nodes[idx].Leaf {
			return t.Nodes[idx].Symbol, nil
		}
	}
	return 0, ErrInvalidCode
}

// Counts returns the per-length counts the table was built from.
func (t *Table) Counts() [MaxCodeLength]uint8 {
	return t.counts
}

// Symbols returns the symbols in canonical order.
func (t *Table) Symbols() []byte {
	return t.syms
}

// Codes lists the code of every symbol in the table, indexed by symbol.
// Absent symbols have Len 0.
func (t *Table) Codes() [256]Code {
	var out [256]Code
	var walk func(idx int32, bits uint16, depth uint8)
	walk = func(idx int32, bits uint16, depth uint8) {
		if idx == none {
			return
		}
		n := t.Nodes[idx]
		if n.Leaf {
			out[n.Symbol] = Code{Bits: bits, Len: depth}
			return
		}
		walk(n.Left, bits<<1, depth+1)
		walk(n.Right, bits<<1|1, depth+1)
	}
	walk(0, 0, 0)
	return out
}

// CountsFromLengths converts per-symbol code lengths (0 = unused) into
// canonical counts and a symbol list ordered by length then symbol index.
func CountsFromLengths(lengths []int) ([MaxCodeLength]uint8, []byte, error) {
	var counts [MaxCodeLength]uint8
	type entry struct {
		sym int
		l   int
	}
	var used []entry
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		if l < 0 || l > MaxCodeLength || sym > 255 {
			return counts, nil, fmt.Errorf("huffman: symbol %d length %d: %w", sym, l, ErrInvalidTable)
		}
		counts[l-1]++
		used = append(used, entry{sym, l})
	}
	sort.SliceStable(used, func(i, j int) bool { return used[i].l < used[j].l })
	symbols := make([]byte, len(used))
	for i, e := range used {
		symbols[i] = byte(e.sym)
	}
	return counts, symbols, nil
}
