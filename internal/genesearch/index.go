// Package genesearch holds the in-memory gene symbol index. Symbols from a
// fixed list of search terms are loaded into one prefix trie per reference
// genome at startup and served read-only afterwards.
package genesearch

import (
	"sort"
	"strings"
)

// GeneRef identifies a gene found by symbol.
type GeneRef struct {
	GeneID string `json:"gene_id"`
	Symbol string `json:"symbol"`
}

// SearchTerm is one gene as delivered by a TermSource.
type SearchTerm struct {
	GeneID          string   `json:"gene_id"`
	Symbol          string   `json:"symbol"`
	AliasSymbols    []string `json:"alias_symbols,omitempty"`
	PreviousSymbols []string `json:"previous_symbols,omitempty"`
}

// SearchResult is one gene returned by a prefix search. MatchedSymbol is the
// indexed key that matched, which differs from Symbol for alias matches.
type SearchResult struct {
	GeneID        string `json:"ensembl_id"`
	Symbol        string `json:"symbol"`
	MatchedSymbol string `json:"matched_symbol"`
}

// Index is the set of per-genome symbol tries.
type Index struct {
	tries map[string]*Trie[GeneRef]
}

// NewIndex builds an Index from search terms grouped by reference genome.
func NewIndex(terms map[string][]SearchTerm) *Index {
	idx := &Index{tries: make(map[string]*Trie[GeneRef], len(terms))}
	for genome, genes := range terms {
		t := NewTrie[GeneRef]()
		for _, g := range genes {
			if g.GeneID == "" || g.Symbol == "" {
				continue
			}
			ref := GeneRef{GeneID: g.GeneID, Symbol: g.Symbol}
			seen := make(map[string]struct{}, 1+len(g.AliasSymbols)+len(g.PreviousSymbols))
			for _, s := range append(append([]string{g.Symbol}, g.AliasSymbols...), g.PreviousSymbols...) {
				key := normalizeSymbol(s)
				if key == "" {
					continue
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				t.Add(key, ref)
			}
		}
		idx.tries[genome] = t
	}
	return idx
}

// Genomes returns the reference genomes with a loaded trie, sorted.
func (idx *Index) Genomes() []string {
	genomes := make([]string, 0, len(idx.tries))
	for g := range idx.tries {
		genomes = append(genomes, g)
	}
	sort.Strings(genomes)
	return genomes
}

// Size returns the number of distinct indexed symbols for genome.
func (idx *Index) Size(genome string) int {
	if t, ok := idx.tries[genome]; ok {
		return t.Len()
	}
	return 0
}

// Lookup returns the genes whose symbol (or alias) is exactly symbol,
// ignoring case.
func (idx *Index) Lookup(genome, symbol string) ([]GeneRef, bool) {
	t, ok := idx.tries[genome]
	if !ok {
		return nil, false
	}
	return t.Get(normalizeSymbol(symbol))
}

// Search returns up to limit genes whose symbols start with query. Each gene
// appears once, at the position of its first matching symbol.
func (idx *Index) Search(genome, query string, limit int) []SearchResult {
	t, ok := idx.tries[genome]
	prefix := normalizeSymbol(query)
	if !ok || prefix == "" || limit <= 0 {
		return []SearchResult{}
	}
	results := make([]SearchResult, 0, limit)
	seen := make(map[string]struct{})
	t.Walk(prefix, func(word string, docs []GeneRef) bool {
		for _, ref := range docs {
			if _, dup := seen[ref.GeneID]; dup {
				continue
			}
			seen[ref.GeneID] = struct{}{}
			results = append(results, SearchResult{
				GeneID:        ref.GeneID,
				Symbol:        ref.Symbol,
				MatchedSymbol: word,
			})
			if len(results) == limit {
				return false
			}
		}
		return true
	})
	return results
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
