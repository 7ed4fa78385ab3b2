package aggregate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"

	"myxcli/internal/errors"
)

// MetricFunc reduces the non-null values of one bucket, in time order, to a
// single number. ok=false yields a null cell. The slice is never empty: a
// bucket with zero non-null values is null for every metric before any
// MetricFunc runs.
type MetricFunc func(values []float64) (float64, bool)

var (
	metricsMu     sync.RWMutex
	metricsByName = map[string]MetricFunc{
		"mean":   statMetric(stats.Mean),
		"min":    statMetric(stats.Min),
		"max":    statMetric(stats.Max),
		"median": statMetric(stats.Median),
		"sum":    statMetric(stats.Sum),
		"std": func(values []float64) (float64, bool) {
			// Sample standard deviation is undefined below two values.
			if len(values) < 2 {
				return 0, false
			}
			v, err := stats.StandardDeviationSample(values)
			return v, err == nil
		},
		"count": func(values []float64) (float64, bool) {
			return float64(len(values)), true
		},
		"first": func(values []float64) (float64, bool) {
			return values[0], true
		},
		"last": func(values []float64) (float64, bool) {
			return values[len(values)-1], true
		},
	}
)

func statMetric(f func(stats.Float64Data) (float64, error)) MetricFunc {
	return func(values []float64) (float64, bool) {
		v, err := f(values)
		return v, err == nil
	}
}

// RegisterMetric adds a named metric, enabling callers to extend the set
// without touching the aggregation engine. Re-registering a name is an error.
func RegisterMetric(name string, f MetricFunc) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if _, exists := metricsByName[name]; exists {
		return errors.NewValidationError(fmt.Sprintf("metric %q already registered", name), nil)
	}
	metricsByName[name] = f
	return nil
}

// LookupMetric resolves a metric by name.
func LookupMetric(name string) (MetricFunc, error) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	f, ok := metricsByName[name]
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("unknown metric %q (available: %v)", name, metricNames()), nil)
	}
	return f, nil
}

// metricNames lists registered metrics sorted; callers hold metricsMu.
func metricNames() []string {
	names := make([]string, 0, len(metricsByName))
	for n := range metricsByName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
