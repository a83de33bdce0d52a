package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const idxPins = "pinboard_pins"

// Meili serves pin search from a Meilisearch index. A background loop
// tracks reachability; while unhealthy, callers fall back to the database.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("search: meilisearch unavailable")
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
		Uid:        idxPins,
		PrimaryKey: "id",
	}); err != nil {
		log.Debug().Err(err).Msg("search: create index (may already exist)")
	}

	index := m.client.Index(idxPins)
	filterable := []interface{}{"appId", "pagePath"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Msg("search: update filterable attrs")
	}
	searchable := []string{"text", "userName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Msg("search: update searchable attrs")
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
				log.Info().Msg("search: meilisearch recovered, reconfiguring index")
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

// SearchPins returns the ids of pins whose root comment matches the query.
func (m *Meili) SearchPins(q Query) ([]int64, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	filters := []string{fmt.Sprintf("appId = %q", q.AppID)}
	if q.PagePath != "" {
		filters = append(filters, fmt.Sprintf("pagePath = %q", q.PagePath))
	}

	resp, err := m.client.Index(idxPins).Search(q.Text, &meili.SearchRequest{
		Filter: filters,
		Limit:  1000,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]int64, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id, ok := hitID(hit); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func hitID(hit meili.Hit) (int64, bool) {
	raw, ok := hit["id"]
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IndexPin adds or updates a pin's searchable record.
func (m *Meili) IndexPin(record Record) error {
	_, err := m.client.Index(idxPins).AddDocuments([]Record{record}, nil)
	return err
}

// IndexPins bulk-indexes records, used by reindexing.
func (m *Meili) IndexPins(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPins).AddDocuments(records, nil)
	return err
}

// DeletePin removes a pin's record from the index.
func (m *Meili) DeletePin(id int64) error {
	_, err := m.client.Index(idxPins).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}
