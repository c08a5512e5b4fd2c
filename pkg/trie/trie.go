// Package trie implements the self-tuning, prefix-merging aggregation
// structure that turns a stream of canonicalized stack strings into
// folded-stack flame-graph output.
//
// A Trie is not safe for concurrent use: the sampler that owns one
// guarantees a single writer, and readers (DumpTo / DumpToString) are only
// ever called while that writer is stopped.
package trie

import (
	"bytes"
	"io"
	"strings"
)

const rootLabel = "root"

// Node is one entry in the trie: one per distinct (parent, label) pair.
// The trie exclusively owns FirstChild and NextSibling; addresses of Node
// values never change once allocated, which is what makes the MTF
// field-swap promotion below safe in the presence of any code that might
// hold a *Node across an Add call (none does today, but the structure keeps
// that guarantee available).
type Node struct {
	Label        string
	LeafCount    uint64
	SubtreeCount uint64
	FirstChild   *Node
	NextSibling  *Node
}

// Trie aggregates stack samples in a prefix tree rooted at a synthetic
// node labeled "root", which is never itself emitted.
type Trie struct {
	root *Node
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{root: &Node{Label: rootLabel}}
}

// Add inserts stack, a semicolon-delimited string, with weight 1.
func (t *Trie) Add(stack string) {
	t.AddWeighted(stack, 1)
}

// AddWeighted inserts stack with the given weight. weight == 0 is a no-op;
// an empty stack string is always a no-op (no child is created).
//
// Insertion tokenizes stack on ';' and, for each token, walks the sibling
// list of the current node's children looking for a matching label. While
// scanning, it applies move-to-front-like promotion: whenever the
// previously visited sibling has a strictly lower SubtreeCount than the
// sibling currently being examined, their payload fields (label, counts,
// first child) are swapped in place. This keeps frequently hit children
// near the front of the list without ever relinking a NextSibling pointer,
// so no Node address is invalidated by a promotion.
func (t *Trie) AddWeighted(stack string, weight uint64) {
	if stack == "" || weight == 0 {
		return
	}

	node := t.root
	for _, tok := range strings.Split(stack, ";") {
		node.SubtreeCount += weight

		if node.FirstChild == nil {
			child := &Node{Label: tok}
			node.FirstChild = child
			node = child
			continue
		}

		var prev *Node
		next := node.FirstChild
		for next != nil && next.Label != tok {
			if prev != nil && prev.SubtreeCount < next.SubtreeCount {
				prev.Label, next.Label = next.Label, prev.Label
				prev.SubtreeCount, next.SubtreeCount = next.SubtreeCount, prev.SubtreeCount
				prev.LeafCount, next.LeafCount = next.LeafCount, prev.LeafCount
				prev.FirstChild, next.FirstChild = next.FirstChild, prev.FirstChild
			}
			prev = next
			next = next.NextSibling
		}

		if next != nil {
			node = next
			continue
		}

		child := &Node{Label: tok}
		prev.NextSibling = child
		node = child
	}

	node.LeafCount += weight
	node.SubtreeCount += weight
}

// DumpToString returns the folded-stack serialization of the trie.
func (t *Trie) DumpToString() string {
	var buf bytes.Buffer
	// DumpTo on a bytes.Buffer never returns an error.
	_ = t.DumpTo(&buf)
	return buf.String()
}

// DumpTo writes the folded-stack serialization to w: a pre-order walk from
// the root, one line per node with a nonzero LeafCount, children visited in
// current sibling-list order (reflecting MTF promotion), a node's own entry
// emitted only after its full child subtree has been emitted. w sees no
// intermediate flushing guarantees beyond what it does itself.
//
// This walk recurses; trie depth in practice is bounded by interpreter call
// stack depth (low thousands at worst), unlike Destroy, which the spec
// requires to be iterative because it runs on arbitrary, potentially much
// deeper, synthetic trees.
func (t *Trie) DumpTo(w io.Writer) error {
	d := &dumper{w: w}
	if err := d.visit(t.root, nil); err != nil {
		return err
	}
	return nil
}

type dumper struct {
	w     io.Writer
	wrote bool
}

func (d *dumper) visit(n *Node, labels []string) error {
	if n == nil {
		return nil
	}
	parent := labels
	if n.Label != rootLabel {
		labels = append(labels, n.Label)
	}

	if err := d.visit(n.FirstChild, labels); err != nil {
		return err
	}

	if n.LeafCount > 0 {
		if d.wrote {
			if _, err := io.WriteString(d.w, "\n"); err != nil {
				return ErrWriteFailed
			}
		}
		line := strings.Join(labels, ";")
		if _, err := io.WriteString(d.w, line); err != nil {
			return ErrWriteFailed
		}
		if _, err := io.WriteString(d.w, " "); err != nil {
			return ErrWriteFailed
		}
		if _, err := io.WriteString(d.w, uitoa(n.LeafCount)); err != nil {
			return ErrWriteFailed
		}
		d.wrote = true
	}

	return d.visit(n.NextSibling, parent)
}

// uitoa avoids pulling in strconv at the hot serialization path for the
// single conversion this package needs.
func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Destroy releases the entire node graph. Unlike DumpTo, it walks
// iteratively: the tries this profiler builds over a long sampling session
// can be far deeper on a pathological stack than anything a bounded call
// stack should be asked to recurse through, so destruction never recurses.
func (t *Trie) Destroy() {
	if t.root == nil {
		return
	}
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if n.FirstChild != nil {
			stack = append(stack, n.FirstChild)
		}
		if n.NextSibling != nil {
			stack = append(stack, n.NextSibling)
		}
		n.FirstChild = nil
		n.NextSibling = nil
	}
	t.root = nil
}

// Root exposes the root node for read-only inspection (tests, debugging
// tools). Mutating the returned graph outside of Add/AddWeighted breaks the
// trie's invariants.
func (t *Trie) Root() *Node { return t.root }
