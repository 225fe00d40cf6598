package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Susbonk/SusBonk-V1/internal/config"
	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/opensearch"
)

// Cluster is the slice of the OpenSearch client the checks need.
type Cluster interface {
	NodesFSStats(ctx context.Context) ([]opensearch.NodeFS, error)
	IndexSettings(ctx context.Context, pattern string) (map[string]json.RawMessage, error)
	Search(ctx context.Context, index string, query map[string]interface{}) (*opensearch.SearchResult, error)
}

// Checker evaluates the three alert conditions against a cluster.
type Checker struct {
	cluster  Cluster
	cfg      config.AlertConfig
	notifier Notifier
}

// NewChecker wires a checker to its cluster and notifier.
func NewChecker(cluster Cluster, cfg config.AlertConfig, notifier Notifier) *Checker {
	return &Checker{cluster: cluster, cfg: cfg, notifier: notifier}
}

// RunAll runs every check once. Each check fails independently; a
// failed check raises a CHECK_FAILED alert instead of aborting the
// tick.
func (c *Checker) RunAll(ctx context.Context) {
	c.CheckDisk(ctx)
	c.CheckReadonly(ctx)
	c.CheckLogAnomalies(ctx)
}

// CheckDisk alerts when any node drops below the free-space floor,
// absolute or relative.
func (c *Checker) CheckDisk(ctx context.Context) {
	nodes, err := c.cluster.NodesFSStats(ctx)
	if err != nil {
		c.checkFailed("disk check error: " + err.Error())
		return
	}

	for _, node := range nodes {
		freeGB := node.FreeGB()
		freePct := node.FreePct()
		if freeGB < c.cfg.MinFreeGB || freePct < c.cfg.MinFreePct {
			c.notifier.Notify(domain.Alert{
				Severity: "CRIT",
				Kind:     "DISK",
				Message: fmt.Sprintf("node=%s free=%.1fGB (%.1f%%) thresholds: <%.1fGB or <%.1f%%",
					node.Name, freeGB, freePct, c.cfg.MinFreeGB, c.cfg.MinFreePct),
			})
		}
	}
}

type indexSettings struct {
	Settings struct {
		Index struct {
			Blocks struct {
				ReadOnlyAllowDelete json.RawMessage `json:"read_only_allow_delete"`
			} `json:"blocks"`
		} `json:"index"`
	} `json:"settings"`
}

// CheckReadonly alerts per index whose read_only_allow_delete block is
// set. OpenSearch reports the flag as either a bool or the string
// "true" depending on how it was written.
func (c *Checker) CheckReadonly(ctx context.Context) {
	settings, err := c.cluster.IndexSettings(ctx, c.cfg.IndexPattern)
	if err != nil {
		c.checkFailed("readonly check error: " + err.Error())
		return
	}

	for index, raw := range settings {
		var parsed indexSettings
		if err := json.Unmarshal(raw, &parsed); err != nil {
			continue
		}
		if isTrue(parsed.Settings.Index.Blocks.ReadOnlyAllowDelete) {
			c.notifier.Notify(domain.Alert{
				Severity: "CRIT",
				Kind:     "READONLY",
				Message:  fmt.Sprintf("index=%s has read_only_allow_delete=true", index),
			})
		}
	}
}

func isTrue(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "true" || s == `"true"`
}

// CheckLogAnomalies runs the error and warning searches over the last
// three minutes and alerts when the hit counts reach their thresholds.
func (c *Checker) CheckLogAnomalies(ctx context.Context) {
	c.checkLogLevel(ctx, []string{"ERROR", "CRITICAL", "FATAL"}, c.cfg.ErrorThreshold,
		"CRIT", "LOG_ERROR", "error")
	c.checkLogLevel(ctx, []string{"WARN", "WARNING"}, c.cfg.WarningThreshold,
		"WARN", "LOG_WARNING", "warning")
}

func (c *Checker) checkLogLevel(ctx context.Context, levels []string, threshold int, severity, kind, noun string) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"range": map[string]interface{}{
						"@timestamp": map[string]interface{}{"gte": "now-3m"},
					}},
					map[string]interface{}{"terms": map[string]interface{}{
						"log.level": levels,
					}},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"@timestamp": map[string]interface{}{"order": "desc"}},
		},
		"size": 10,
	}

	result, err := c.cluster.Search(ctx, c.cfg.IndexPattern, query)
	if err != nil {
		c.checkFailed(fmt.Sprintf("log %s check request error: %s", noun, err.Error()))
		return
	}

	hits := result.Hits.Hits
	if len(hits) == 0 || len(hits) < threshold {
		return
	}

	details := strings.Join(extractMessages(hits, c.cfg.DetailsLimit), "\n")
	c.notifier.Notify(domain.Alert{
		Severity: severity,
		Kind:     kind,
		Message: fmt.Sprintf("Found %d %s(s) in logs (threshold: %d). Recent:\n%s",
			len(hits), noun, threshold, details),
	})
}

// logDoc tolerates both nested (service.name as object) and flat
// (dotted key) document shapes.
type logDoc struct {
	Timestamp string `json:"@timestamp"`
	Log       *struct {
		Level string `json:"level"`
	} `json:"log"`
	FlatLevel string `json:"log.level"`
	Service   *struct {
		Name string `json:"name"`
	} `json:"service"`
	FlatService string `json:"service.name"`
	Message     string `json:"message"`
}

func extractMessages(hits []opensearch.Hit, limit int) []string {
	if limit > len(hits) {
		limit = len(hits)
	}

	lines := make([]string, 0, limit)
	for i, hit := range hits[:limit] {
		var doc logDoc
		json.Unmarshal(hit.Source, &doc)

		ts := orPlaceholder(doc.Timestamp)
		level := doc.FlatLevel
		if doc.Log != nil && doc.Log.Level != "" {
			level = doc.Log.Level
		}
		service := doc.FlatService
		if doc.Service != nil && doc.Service.Name != "" {
			service = doc.Service.Name
		}
		msg := doc.Message
		if msg == "" {
			msg = "No message available"
		}

		lines = append(lines, fmt.Sprintf("%02d. %s [%s] %s — %s",
			i+1, ts, orPlaceholder(level), orPlaceholder(service), msg))
	}
	return lines
}

func orPlaceholder(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func (c *Checker) checkFailed(msg string) {
	c.notifier.Notify(domain.Alert{Severity: "WARN", Kind: "CHECK_FAILED", Message: msg})
}
