package wrapper

import (
	"context"
	"strings"
	"time"
)

// Source is an external digital library reached by a wrapper.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]Document, error)
}

// DummySource answers from a fixed in-memory catalogue, optionally after a
// delay standing in for the remote round trip.
type DummySource struct {
	name    string
	delay   time.Duration
	catalog []Document
}

func NewDummySource(name string, delay time.Duration, catalog ...Document) *DummySource {
	if len(catalog) == 0 {
		catalog = defaultCatalog
	}
	return &DummySource{name: name, delay: delay, catalog: catalog}
}

func (s *DummySource) Name() string { return s.name }

// Search returns the documents whose title contains every query term,
// case-insensitively.
func (s *DummySource) Search(ctx context.Context, query string, max int) ([]Document, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	terms := strings.Fields(strings.ToLower(query))
	hits := make([]Document, 0)
	for _, doc := range s.catalog {
		title := strings.ToLower(doc.Title)
		match := len(terms) > 0
		for _, term := range terms {
			if !strings.Contains(title, term) {
				match = false
				break
			}
		}
		if match {
			hits = append(hits, doc)
			if max > 0 && len(hits) == max {
				break
			}
		}
	}
	return hits, nil
}

var defaultCatalog = []Document{
	{ID: "d1", Title: "Melanoma risk factors in northern Europe", Authors: []string{"Berg", "Lind"}, Year: 2009},
	{ID: "d2", Title: "Gene expression profiling of melanoma metastases", Authors: []string{"Okafor"}, Year: 2011},
	{ID: "d3", Title: "Information retrieval in digital libraries", Authors: []string{"Frommholz", "Fuhr"}, Year: 2008},
	{ID: "d4", Title: "Agent-based architectures for digital libraries", Authors: []string{"Klas"}, Year: 2010},
	{ID: "d5", Title: "Tumor suppressor genes: a review", Authors: []string{"Nguyen", "Adams"}, Year: 2005},
}
