package appdynamics

// Application is one monitored application as returned by the controller
// discovery API.
type Application struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Tier is a logical application layer within an application.
type Tier struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	AgentType     string `json:"agentType"`
	NumberOfNodes int    `json:"numberOfNodes"`
}

// Node is one agent instance within a tier.
type Node struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	TierName    string `json:"tierName"`
	MachineName string `json:"machineName"`
	MachineID   int    `json:"machineId"`
	AgentType   string `json:"agentType"`
}

// MetricValue is one rolled-up or per-minute data point.
type MetricValue struct {
	StartTimeInMillis int64   `json:"startTimeInMillis"`
	Value             float64 `json:"value"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Current           float64 `json:"current"`
	Sum               float64 `json:"sum"`
	Count             int64   `json:"count"`
}

// MetricData is the controller's metric-data response for one metric path.
type MetricData struct {
	MetricID     int64         `json:"metricId"`
	MetricName   string        `json:"metricName"`
	MetricPath   string        `json:"metricPath"`
	Frequency    string        `json:"frequency"`
	MetricValues []MetricValue `json:"metricValues"`
}

// Latest returns the most recent data point, or false when the series is empty.
func (m *MetricData) Latest() (MetricValue, bool) {
	if len(m.MetricValues) == 0 {
		return MetricValue{}, false
	}
	latest := m.MetricValues[0]
	for _, v := range m.MetricValues[1:] {
		if v.StartTimeInMillis > latest.StartTimeInMillis {
			latest = v
		}
	}
	return latest, true
}
