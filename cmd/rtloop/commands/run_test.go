package commands

import (
	"strings"
	"testing"

	"github.com/rtloop/rtloop/pkg/engine"
)

func TestWriteReportUsesWorkspaceUnit(t *testing.T) {
	report := &engine.Report{
		RunID:  "run-1",
		Reason: engine.StopTickLimit,
		Ticks:  1000,
		Timing: engine.TimingSnapshot{
			MeanPeriodUS: 1000.4,
			MaxPeriodUS:  1500,
			JitterUS:     12.5,
		},
	}

	tests := []struct {
		unit string
		want string
	}{
		{"ms", "  max period:  1.5ms\n"},
		{"us", "  max period:  1500.0us\n"},
		{"", "  max period:  1500.0us\n"},
		{"s", "  max period:  0.0s\n"},
	}
	for _, tt := range tests {
		var buf strings.Builder
		writeReport(&buf, report, tt.unit)
		out := buf.String()
		if !strings.Contains(out, tt.want) {
			t.Errorf("unit %q: report %q missing line %q", tt.unit, out, tt.want)
		}
		// Mean and jitter are not subject to the display unit.
		if !strings.Contains(out, "mean period: 1000.4us") || !strings.Contains(out, "jitter:      12.5us") {
			t.Errorf("unit %q: mean/jitter lines changed: %q", tt.unit, out)
		}
	}
}
