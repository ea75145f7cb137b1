// Package generator builds a nested JSON description of a monitored
// application (tiers, nodes, suggested metric paths) from the controller
// discovery API, for review before a monitoring run.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/appdynamics"
)

// DiscoveryAPI is the subset of the controller client the generator needs.
type DiscoveryAPI interface {
	ListTiers(ctx context.Context, application string) ([]appdynamics.Tier, error)
	ListNodes(ctx context.Context, application, tier string) ([]appdynamics.Node, error)
}

// NodeEntry describes one discovered node.
type NodeEntry struct {
	Name    string `json:"name"`
	Machine string `json:"machine,omitempty"`
}

// TierEntry describes one discovered tier with its nodes and the metric
// paths the collector would poll for it.
type TierEntry struct {
	Name        string      `json:"name"`
	AgentType   string      `json:"agent_type,omitempty"`
	Nodes       []NodeEntry `json:"nodes"`
	MetricPaths []string    `json:"metric_paths"`
}

// Document is the generated monitoring description.
type Document struct {
	Controller  string      `json:"controller"`
	Application string      `json:"application"`
	GeneratedAt time.Time   `json:"generated_at"`
	Tiers       []TierEntry `json:"tiers"`
}

// Generator walks the discovery API and assembles a Document.
type Generator struct {
	api        DiscoveryAPI
	controller string
	log        logrus.FieldLogger
}

// New creates a generator over the given discovery API.
func New(api DiscoveryAPI, controllerURL string, log logrus.FieldLogger) *Generator {
	return &Generator{
		api:        api,
		controller: controllerURL,
		log:        log.WithField("component", "generator"),
	}
}

// Generate discovers the application's tiers and nodes and returns the
// validated document.
func (g *Generator) Generate(ctx context.Context, application string) (*Document, error) {
	tiers, err := g.api.ListTiers(ctx, application)
	if err != nil {
		return nil, fmt.Errorf("tier discovery failed: %w", err)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("application %q has no tiers", application)
	}

	doc := &Document{
		Controller:  g.controller,
		Application: application,
		GeneratedAt: time.Now().UTC(),
	}

	for _, tier := range tiers {
		entry := TierEntry{
			Name:        tier.Name,
			AgentType:   tier.AgentType,
			Nodes:       []NodeEntry{},
			MetricPaths: suggestedMetricPaths(tier.Name),
		}

		nodes, err := g.api.ListNodes(ctx, application, tier.Name)
		if err != nil {
			return nil, fmt.Errorf("node discovery failed for tier %q: %w", tier.Name, err)
		}
		for _, node := range nodes {
			entry.Nodes = append(entry.Nodes, NodeEntry{
				Name:    node.Name,
				Machine: node.MachineName,
			})
		}

		doc.Tiers = append(doc.Tiers, entry)
	}

	if err := ValidateDocument(doc); err != nil {
		return nil, fmt.Errorf("generated document failed validation: %w", err)
	}

	g.log.WithFields(logrus.Fields{
		"application": application,
		"tiers":       len(doc.Tiers),
	}).Info("Generated monitoring description")

	return doc, nil
}

// WriteFile generates the document and writes it as indented JSON.
func (g *Generator) WriteFile(ctx context.Context, application, path string) error {
	doc, err := g.Generate(ctx, application)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	g.log.WithField("path", path).Info("Wrote monitoring description")
	return nil
}

// suggestedMetricPaths lists the metric paths the collector polls for a tier.
func suggestedMetricPaths(tier string) []string {
	return []string{
		appdynamics.TierPerformancePath(tier, appdynamics.MetricCallsPerMinute),
		appdynamics.TierPerformancePath(tier, appdynamics.MetricAvgResponseTime),
		appdynamics.TierPerformancePath(tier, appdynamics.MetricErrorsPerMinute),
		appdynamics.BusinessTransactionPath(tier, appdynamics.MetricAvgResponseTime),
		appdynamics.HardwarePath(tier, appdynamics.MetricCPUBusy),
		appdynamics.JVMPath(tier, appdynamics.MetricHeapUsed),
	}
}
