package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfscope/monitor/appdynamics"
)

type fakeDiscovery struct {
	tiers    map[string][]appdynamics.Tier
	nodes    map[string][]appdynamics.Node
	tiersErr error
	nodesErr error
}

func (f *fakeDiscovery) ListTiers(ctx context.Context, application string) ([]appdynamics.Tier, error) {
	if f.tiersErr != nil {
		return nil, f.tiersErr
	}
	return f.tiers[application], nil
}

func (f *fakeDiscovery) ListNodes(ctx context.Context, application, tier string) ([]appdynamics.Node, error) {
	if f.nodesErr != nil {
		return nil, f.nodesErr
	}
	return f.nodes[tier], nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestGenerate(t *testing.T) {
	api := &fakeDiscovery{
		tiers: map[string][]appdynamics.Tier{
			"ECommerce": {
				{ID: 1, Name: "web", AgentType: "APP_AGENT"},
				{ID: 2, Name: "payments", AgentType: "APP_AGENT"},
			},
		},
		nodes: map[string][]appdynamics.Node{
			"web": {
				{Name: "web-node-1", MachineName: "host-a"},
				{Name: "web-node-2", MachineName: "host-b"},
			},
			"payments": {
				{Name: "pay-node-1", MachineName: "host-c"},
			},
		},
	}

	gen := New(api, "https://controller.example.com", testLogger())
	doc, err := gen.Generate(context.Background(), "ECommerce")
	require.NoError(t, err)

	assert.Equal(t, "https://controller.example.com", doc.Controller)
	assert.Equal(t, "ECommerce", doc.Application)
	assert.False(t, doc.GeneratedAt.IsZero())
	require.Len(t, doc.Tiers, 2)

	web := doc.Tiers[0]
	assert.Equal(t, "web", web.Name)
	require.Len(t, web.Nodes, 2)
	assert.Equal(t, "web-node-1", web.Nodes[0].Name)
	assert.Equal(t, "host-a", web.Nodes[0].Machine)
	assert.Contains(t, web.MetricPaths, "Overall Application Performance|web|Calls per Minute")
	assert.Contains(t, web.MetricPaths,
		"Application Infrastructure Performance|web|Individual Nodes|*|JVM|Memory:Heap|Used (MB)")

	// A tier without nodes still serializes as an empty array.
	payments := doc.Tiers[1]
	assert.Equal(t, "payments", payments.Name)
	require.Len(t, payments.Nodes, 1)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("NoTiers", func(t *testing.T) {
		gen := New(&fakeDiscovery{}, "https://controller.example.com", testLogger())
		_, err := gen.Generate(context.Background(), "Empty")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no tiers")
	})

	t.Run("TierDiscoveryFails", func(t *testing.T) {
		api := &fakeDiscovery{tiersErr: fmt.Errorf("controller returned 503")}
		gen := New(api, "https://controller.example.com", testLogger())
		_, err := gen.Generate(context.Background(), "ECommerce")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tier discovery failed")
	})

	t.Run("NodeDiscoveryFails", func(t *testing.T) {
		api := &fakeDiscovery{
			tiers:    map[string][]appdynamics.Tier{"ECommerce": {{Name: "web"}}},
			nodesErr: fmt.Errorf("controller returned 503"),
		}
		gen := New(api, "https://controller.example.com", testLogger())
		_, err := gen.Generate(context.Background(), "ECommerce")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `tier "web"`)
	})
}

func TestWriteFile(t *testing.T) {
	api := &fakeDiscovery{
		tiers: map[string][]appdynamics.Tier{"ECommerce": {{Name: "web"}}},
		nodes: map[string][]appdynamics.Node{"web": {{Name: "web-node-1"}}},
	}

	path := filepath.Join(t.TempDir(), "discovery.json")
	gen := New(api, "https://controller.example.com", testLogger())
	require.NoError(t, gen.WriteFile(context.Background(), "ECommerce", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// The written file parses back and still satisfies the schema.
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "ECommerce", doc.Application)
	assert.NoError(t, ValidateJSON(data))
}

func TestValidateJSON(t *testing.T) {
	t.Run("MissingTiers", func(t *testing.T) {
		err := ValidateJSON([]byte(`{
			"controller": "https://controller.example.com",
			"application": "ECommerce",
			"generated_at": "2026-03-01T10:00:00Z",
			"tiers": []
		}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match schema")
	})

	t.Run("TierMissingMetricPaths", func(t *testing.T) {
		err := ValidateJSON([]byte(`{
			"controller": "https://controller.example.com",
			"application": "ECommerce",
			"generated_at": "2026-03-01T10:00:00Z",
			"tiers": [{"name": "web", "nodes": []}]
		}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metric_paths")
	})

	t.Run("NotJSON", func(t *testing.T) {
		err := ValidateJSON([]byte("not json"))
		require.Error(t, err)
	})
}
