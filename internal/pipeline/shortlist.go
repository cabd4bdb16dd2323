package pipeline

import (
	"sort"
	"strings"

	"github.com/homeside-repairs/estimate-worker/internal/model"
)

// shortlist narrows the catalog to the entries shown to the mapping stage.
// Alias hits against the extracted phrases form the candidate set; only when
// no alias matches does the fallback widen to token-overlap matches padded
// with a bounded catalog prefix. A small catalog passes through whole.
func shortlist(snap *model.Snapshot, items []model.ExtractedItem, limit int) []model.CatalogEntry {
	if len(snap.Catalog) <= limit {
		return snap.Catalog
	}

	picked := make(map[string]bool)
	var out []model.CatalogEntry

	add := func(code string) {
		if picked[code] {
			return
		}
		if entry, ok := snap.Entry(code); ok {
			picked[code] = true
			out = append(out, entry)
		}
	}

	// Alias hits against each extracted phrase.
	for _, item := range items {
		text := item.Phrase
		if item.Note != "" {
			text += " " + item.Note
		}
		if code, ok := snap.AliasMatch(text); ok {
			add(code)
		}
	}
	if len(out) > 0 {
		if len(out) > limit {
			out = out[:limit]
		}
		return out
	}

	// No alias matched anything. Fall back to token overlap between phrases
	// and catalog names, best matches first.
	type scored struct {
		code  string
		score int
	}
	var candidates []scored
	phraseTokens := tokenSet(items)
	for _, entry := range snap.Catalog {
		score := 0
		for _, tok := range strings.Fields(strings.ToLower(entry.Name)) {
			if phraseTokens[tok] {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{entry.Code, score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	for _, c := range candidates {
		if len(out) >= limit {
			return out
		}
		add(c.code)
	}

	// Pad with a catalog prefix in stable order.
	for _, entry := range snap.Catalog {
		if len(out) >= limit {
			break
		}
		add(entry.Code)
	}
	return out
}

func tokenSet(items []model.ExtractedItem) map[string]bool {
	set := make(map[string]bool)
	for _, item := range items {
		for _, tok := range strings.Fields(strings.ToLower(item.Phrase + " " + item.Note)) {
			if len(tok) >= 3 {
				set[tok] = true
			}
		}
	}
	return set
}
