package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pending    []prometheus.Collector
	registered sync.Once
)

// register queues collectors from each file's init; nothing is exported
// until MustRegister runs.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// Register adds every queued collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range pending {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister exports the collectors on the default registry served by
// /metrics. Later calls are no-ops.
func MustRegister() {
	registered.Do(func() {
		if err := Register(prometheus.DefaultRegisterer); err != nil {
			panic(err)
		}
	})
}

// norm keeps label values low-cardinality and consistent.
func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
