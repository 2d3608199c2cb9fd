package knowledge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
)

// Entry is a unit of remembered content: a stored conversation message,
// a note, or a finding from a previous plan run.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a scored search result.
type Hit struct {
	Entry    Entry
	Score    float64
	Fragment string
}

// Index is an in-process full-text index over knowledge entries.
type Index struct {
	idx  bleve.Index
	meta map[string]Entry
	mu   sync.RWMutex
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating knowledge index: %w", err)
	}
	return &Index{idx: idx, meta: make(map[string]Entry)}, nil
}

// Add indexes an entry, replacing any previous entry with the same ID.
func (i *Index) Add(entry Entry) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.meta[entry.ID] = entry
	return i.idx.Index(entry.ID, entry)
}

// Len reports the number of indexed entries.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.meta)
}

// Search runs a full-text query and returns up to k hits with highlighted
// fragments where available.
func (i *Index) Search(q string, k int) ([]Hit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	req.Highlight = bleve.NewHighlight()
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	var hits []Hit
	for _, h := range res.Hits {
		entry, ok := i.meta[h.ID]
		if !ok {
			continue
		}
		fragment := ""
		for _, frags := range h.Fragments {
			if len(frags) > 0 {
				fragment = frags[0]
				break
			}
		}
		hits = append(hits, Hit{Entry: entry, Score: h.Score, Fragment: fragment})
	}
	return hits, nil
}
