// check-sources probes the configured metric sources and prints what they
// return, for verifying credentials and queries before a monitoring run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/appdynamics"
	"github.com/perfscope/monitor/config"
	"github.com/perfscope/monitor/kibana"
)

func main() {
	configPath := flag.String("config", "", "Path to monitor YAML configuration")
	window := flag.Duration("window", 5*time.Minute, "Lookback window for log queries")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("Please provide a configuration file path using -config flag")
	}

	cfg, err := config.LoadMonitorConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger := logrus.StandardLogger()
	end := time.Now()
	start := end.Add(-*window)

	if cfg.Sources.AppDynamics.Enabled {
		client := appdynamics.NewClient(&cfg.Sources.AppDynamics, logger)

		apps, err := client.ListApplications(ctx)
		if err != nil {
			log.Fatalf("AppDynamics probe failed: %v", err)
		}
		fmt.Printf("AppDynamics: %d applications visible\n", len(apps))

		tiers, err := client.ListTiers(ctx, cfg.Sources.AppDynamics.Application)
		if err != nil {
			log.Fatalf("Tier listing failed: %v", err)
		}
		for _, tier := range tiers {
			fmt.Printf("  tier %-30s nodes=%d agent=%s\n", tier.Name, tier.NumberOfNodes, tier.AgentType)
		}
	}

	if cfg.Sources.Kibana.Enabled {
		client := kibana.NewClient(&cfg.Sources.Kibana, logger)

		count, err := client.CountErrors(ctx, cfg.Sources.Kibana.ErrorQuery, start, end)
		if err != nil {
			log.Fatalf("Kibana probe failed: %v", err)
		}
		fmt.Printf("Kibana: %d errors in the last %s\n", count, *window)

		stats, err := client.GetResponseTimeStats(ctx, cfg.Sources.Kibana.ResponseTimeField,
			cfg.Sources.Kibana.ResponseTimeQuery, start, end)
		if err != nil {
			log.Fatalf("Response time query failed: %v", err)
		}
		fmt.Printf("  response times: count=%d avg=%.1fms p95=%.1fms max=%.1fms\n",
			stats.Count, stats.Avg, stats.P95, stats.Max)

		top, err := client.TopErrorMessages(ctx, cfg.Sources.Kibana.MessageField,
			cfg.Sources.Kibana.ErrorQuery, start, end, 5)
		if err != nil {
			log.Fatalf("Top errors query failed: %v", err)
		}
		for _, bucket := range top {
			fmt.Printf("  %6d  %s\n", bucket.DocCount, bucket.Key)
		}
	}

	fmt.Println("All enabled sources reachable")
}
