package cachemap

import "github.com/inference-sim/cacherouter/blockhash"

// trieNode corresponds to one block-hash reached from the root along some
// path. Because block hashes are computed over the cumulative prefix
// (blockhash.HashPrompt), a given hash value always denotes the same
// lineage, so each node has exactly one parent — the trie stays a genuine
// tree, never a DAG (spec.md §3 "Prefix Trie Node").
type trieNode struct {
	parent   *trieNode
	edge     blockhash.Hash
	workers  map[string]struct{}
	children map[blockhash.Hash]*trieNode
}

func newTrieNode(parent *trieNode, edge blockhash.Hash) *trieNode {
	return &trieNode{
		parent:   parent,
		edge:     edge,
		workers:  make(map[string]struct{}),
		children: make(map[blockhash.Hash]*trieNode),
	}
}

func (n *trieNode) isEmpty() bool {
	return len(n.workers) == 0 && len(n.children) == 0
}
