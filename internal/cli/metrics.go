package cli

import (
	"fmt"
	"io"

	"github.com/prometheus/common/expfmt"

	"github.com/roach88/wins/internal/metrics"
)

// writeMetrics writes every instrument in m in the prometheus text format.
func writeMetrics(w io.Writer, m *metrics.Metrics) error {
	reg := m.Registry()
	if reg == nil {
		return nil
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
