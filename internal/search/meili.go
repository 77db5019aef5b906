package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"planboard/api/internal/logger"
)

const idxInteractions = "planboard_interactions"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the interactions
// index. The caller should proceed without Meilisearch when the initial
// connection fails; the health loop will pick it up once it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Get().WithError(err).WithField("url", url).Warn("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxInteractions,
		PrimaryKey: "id",
	}); err != nil {
		logger.Get().WithError(err).Debug("search: create index (may already exist)")
	}

	index := m.client.Index(idxInteractions)
	filterable := []interface{}{"kind", "section", "answered"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logger.Get().WithError(err).Warn("search: update filterable attrs")
	}
	searchable := []string{"content", "answer", "author"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logger.Get().WithError(err).Warn("search: update searchable attrs")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logger.Get().Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the interactions index with the requested filters.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	var filters []string
	if q.FilterKind != "" {
		filters = append(filters, fmt.Sprintf("kind = %q", string(q.FilterKind)))
	}
	if q.FilterSection != "" {
		filters = append(filters, fmt.Sprintf("section = %q", q.FilterSection))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxInteractions).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}

	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		Kind:    Kind(decodeString(hit, "kind")),
		ID:      decodeString(hit, "id"),
		Section: decodeString(hit, "section"),
		Author:  decodeString(hit, "author"),
	}
	r.Snippet = firstNonBlank(
		decodeFormattedString(hit, "content"),
		decodeString(hit, "content"),
	)
	if r.Kind == KindQuestion {
		if answer := firstNonBlank(decodeFormattedString(hit, "answer"), decodeString(hit, "answer")); answer != "" {
			r.Answered = true
			if strings.Contains(answer, "<mark>") {
				r.Snippet = answer
			}
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexInteraction adds or updates one interaction in the search index.
func (m *Meili) IndexInteraction(rec InteractionRecord) error {
	_, err := m.client.Index(idxInteractions).AddDocuments([]InteractionRecord{rec}, nil)
	return err
}

// DeleteInteraction removes an interaction from the search index.
func (m *Meili) DeleteInteraction(id string) error {
	_, err := m.client.Index(idxInteractions).DeleteDocument(id, nil)
	return err
}

// IndexInteractions bulk-indexes interactions.
func (m *Meili) IndexInteractions(records []InteractionRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxInteractions).AddDocuments(records, nil)
	return err
}
