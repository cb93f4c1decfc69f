package genesearch

import (
	"slices"
)

type node[T any] struct {
	children map[rune]*node[T]
	docs     []T
}

// Trie maps string keys to one or more documents and answers exact and
// prefix lookups. A Trie is filled with Add before it is shared; after that
// it is read-only and safe for concurrent readers.
type Trie[T any] struct {
	root *node[T]
	keys int
}

// Match is one terminal key found by Search, with every document added
// under it.
type Match[T any] struct {
	Word string
	Docs []T
}

func NewTrie[T any]() *Trie[T] {
	return &Trie[T]{root: &node[T]{}}
}

// Add appends doc to the documents stored under key, creating intermediate
// nodes as needed.
func (t *Trie[T]) Add(key string, doc T) {
	n := t.root
	for _, r := range key {
		if n.children == nil {
			n.children = make(map[rune]*node[T])
		}
		child, ok := n.children[r]
		if !ok {
			child = &node[T]{}
			n.children[r] = child
		}
		n = child
	}
	if len(n.docs) == 0 {
		t.keys++
	}
	n.docs = append(n.docs, doc)
}

// Get returns the documents added under exactly key. The second result is
// false when key was never added, even if it prefixes a key that was.
func (t *Trie[T]) Get(key string) ([]T, bool) {
	n := t.find(key)
	if n == nil || len(n.docs) == 0 {
		return nil, false
	}
	return slices.Clone(n.docs), true
}

// Search returns every key that starts with prefix, depth first with
// children visited in ascending rune order.
func (t *Trie[T]) Search(prefix string) []Match[T] {
	n := t.find(prefix)
	if n == nil {
		return nil
	}
	var matches []Match[T]
	buf := []rune(prefix)
	n.walk(buf, func(word []rune, docs []T) bool {
		matches = append(matches, Match[T]{Word: string(word), Docs: slices.Clone(docs)})
		return true
	})
	return matches
}

// Walk calls fn for each key under prefix in Search order until fn returns
// false.
func (t *Trie[T]) Walk(prefix string, fn func(word string, docs []T) bool) {
	n := t.find(prefix)
	if n == nil {
		return
	}
	n.walk([]rune(prefix), func(word []rune, docs []T) bool {
		return fn(string(word), docs)
	})
}

// Len returns the number of distinct keys.
func (t *Trie[T]) Len() int {
	return t.keys
}

func (t *Trie[T]) find(key string) *node[T] {
	n := t.root
	for _, r := range key {
		child, ok := n.children[r]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

func (n *node[T]) walk(word []rune, fn func(word []rune, docs []T) bool) bool {
	if len(n.docs) > 0 && !fn(word, n.docs) {
		return false
	}
	if len(n.children) == 0 {
		return true
	}
	keys := make([]rune, 0, len(n.children))
	for r := range n.children {
		keys = append(keys, r)
	}
	slices.Sort(keys)
	for _, r := range keys {
		if !n.children[r].walk(append(word, r), fn) {
			return false
		}
	}
	return true
}
