package appdynamics

import (
	"fmt"
	"strings"
)

// Metric path builders for the controller's standard metric trees. Wildcard
// segments let one metric-data call cover every node or business transaction
// in a tier.

// TierPerformancePath returns the overall-performance path for one metric of
// a tier, e.g. "Average Response Time (ms)" or "Calls per Minute".
func TierPerformancePath(tier, metric string) string {
	return fmt.Sprintf("Overall Application Performance|%s|%s", tier, metric)
}

// BusinessTransactionPath returns the per-transaction path for a tier, with
// a wildcard over transaction names.
func BusinessTransactionPath(tier, metric string) string {
	return fmt.Sprintf("Business Transaction Performance|Business Transactions|%s|*|%s", tier, metric)
}

// HardwarePath returns the infrastructure hardware path for a tier with a
// wildcard over nodes.
func HardwarePath(tier, metric string) string {
	return fmt.Sprintf("Application Infrastructure Performance|%s|Individual Nodes|*|Hardware Resources|%s", tier, metric)
}

// JVMPath returns the per-node JVM path for a tier with a wildcard over nodes.
func JVMPath(tier, metric string) string {
	return fmt.Sprintf("Application Infrastructure Performance|%s|Individual Nodes|*|JVM|%s", tier, metric)
}

// Standard metric leaf names used by the collector.
const (
	MetricCallsPerMinute  = "Calls per Minute"
	MetricAvgResponseTime = "Average Response Time (ms)"
	MetricErrorsPerMinute = "Errors per Minute"
	MetricSlowCalls       = "Number of Slow Calls"
	MetricStallCount      = "Stall Count"

	MetricCPUBusy     = "CPU|%Busy"
	MetricMemoryUsedP = "Memory|Used %"
	MetricMemoryUsed  = "Memory|Used (MB)"

	MetricHeapUsed      = "Memory:Heap|Used (MB)"
	MetricHeapCommitted = "Memory:Heap|Committed (MB)"
	MetricHeapMax       = "Memory:Heap|Max Available (MB)"
	MetricGCTime        = "Garbage Collection|GC Time Spent Per Min (ms)"
	MetricGCCount       = "Garbage Collection|Number of Major Collections Per Min"
	MetricThreadCount   = "Threads|Current No. of Threads"
	MetricClassCount    = "Classes|Current Classes Loaded"
)

// PathSegments splits a metric path on the controller's "|" separator.
func PathSegments(path string) []string {
	return strings.Split(path, "|")
}

// NodeFromPath extracts the node name from an Individual Nodes metric path,
// returning "" when the path has no node segment.
func NodeFromPath(path string) string {
	segments := PathSegments(path)
	for i, seg := range segments {
		if seg == "Individual Nodes" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

// TransactionFromPath extracts the business transaction name from a
// Business Transaction Performance metric path.
func TransactionFromPath(path string) string {
	segments := PathSegments(path)
	// Business Transaction Performance|Business Transactions|<tier>|<bt>|<metric>
	if len(segments) >= 5 && segments[0] == "Business Transaction Performance" {
		return segments[3]
	}
	return ""
}
