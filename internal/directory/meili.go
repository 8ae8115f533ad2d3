package directory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const meiliIndex = "pepen_directory"

type meiliDocument struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Display string `json:"display"`
	Domain  string `json:"domain"`
	Folded  string `json:"folded"`
}

// Meili serves typo-tolerant suggestions from a Meilisearch index. While the
// server is unreachable it reports itself unhealthy and the Service skips it.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     *slog.Logger
}

// NewMeili creates the client, configures the index when reachable and
// starts a background health monitor. Call Close to stop it.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    logger,
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn("meilisearch unavailable", "url", url, "error", err)
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
		Uid:        meiliIndex,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create directory index (may already exist)", "error", err)
	}

	index := m.client.Index(meiliIndex)
	filterable := []interface{}{"domain"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", "error", err)
	}
	searchable := []string{"email", "display", "folded"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", "error", err)
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
				m.log.Info("meilisearch recovered, reconfiguring directory index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Name() string {
	return "meili"
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Ping(context.Context) error {
	if _, err := m.client.Health(); err != nil {
		return fmt.Errorf("meilisearch health: %w", err)
	}
	return nil
}

func (m *Meili) Suggest(_ context.Context, q Query) ([]Suggestion, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if len(q.Domains) == 0 {
		return []Suggestion{}, nil
	}
	quoted := make([]string, 0, len(q.Domains))
	for _, domain := range q.Domains {
		quoted = append(quoted, strconv.Quote(domain))
	}
	resp, err := m.client.Index(meiliIndex).Search(Fold(q.Text), &meili.SearchRequest{
		Limit:  int64(ClampLimit(q.Limit)),
		Filter: fmt.Sprintf("domain IN [%s]", strings.Join(quoted, ", ")),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	out := make([]Suggestion, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		entry := Entry{Email: decodeString(hit, "email"), Display: decodeString(hit, "display")}
		if entry.Email == "" {
			continue
		}
		out = append(out, entry.suggestion())
	}
	return out, nil
}

// Seed adds or replaces entries in the index.
func (m *Meili) Seed(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]meiliDocument, 0, len(entries))
	for _, entry := range entries {
		sum := sha1.Sum([]byte(strings.ToLower(entry.Email)))
		docs = append(docs, meiliDocument{
			ID:      hex.EncodeToString(sum[:]),
			Email:   entry.Email,
			Display: entry.Display,
			Domain:  emailDomain(entry.Email),
			Folded:  Fold(entry.Email + " " + entry.Display),
		})
	}
	if _, err := m.client.Index(meiliIndex).AddDocuments(docs, nil); err != nil {
		return fmt.Errorf("meilisearch add documents: %w", err)
	}
	return nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
