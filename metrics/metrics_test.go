package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/deeppavlov/dialgo-flow-framework/metrics"
)

func TestRegister_IsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	require.NoError(t, metrics.Register(reg))
}

func TestRecordTurn_IncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	metrics.RecordTurn("success", 0.25)

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawCounter, sawHistogram bool
	for _, fam := range families {
		switch fam.GetName() {
		case "dialogrt_turns_total":
			sawCounter = true
			require.Equal(t, float64(1), fam.Metric[0].GetCounter().GetValue())
		case "dialogrt_turn_duration_seconds":
			sawHistogram = true
			require.Equal(t, uint64(1), fam.Metric[0].GetHistogram().GetSampleCount())
		}
	}
	require.True(t, sawCounter)
	require.True(t, sawHistogram)
}

func TestRecordComponentState_LabelsByPathAndState(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	metrics.RecordComponentState("pre.rate_limit", "FINISHED")

	families, err := reg.Gather()
	require.NoError(t, err)

	var metric *dto.Metric
	for _, fam := range families {
		if fam.GetName() == "dialogrt_component_state_total" {
			metric = fam.Metric[0]
		}
	}
	require.NotNil(t, metric)
	labels := map[string]string{}
	for _, lp := range metric.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	require.Equal(t, "pre.rate_limit", labels["path"])
	require.Equal(t, "FINISHED", labels["state"])
}
