package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordEventReceivedIncrementsCounterAndGauge(t *testing.T) {
	before := testutil.ToFloat64(eventsReceivedCounter.WithLabelValues("kafka", "acme.runs"))
	RecordEventReceived("kafka", "acme.runs")
	after := testutil.ToFloat64(eventsReceivedCounter.WithLabelValues("kafka", "acme.runs"))
	require.Equal(t, before+1, after)

	gaugeValue := testutil.ToFloat64(lastEventGauge.WithLabelValues("kafka"))
	require.InDelta(t, float64(time.Now().Unix()), gaugeValue, 2)
}

func TestRecordDispatchLabelsByTargetAndOutcome(t *testing.T) {
	before := testutil.ToFloat64(dispatchCounter.WithLabelValues("webhook", "success"))
	RecordDispatch("webhook", "success")
	after := testutil.ToFloat64(dispatchCounter.WithLabelValues("webhook", "success"))
	require.Equal(t, before+1, after)
}

func TestRecordReportLabelsByStatus(t *testing.T) {
	before := testutil.ToFloat64(reportCounter.WithLabelValues("FAILURE"))
	RecordReport("FAILURE")
	after := testutil.ToFloat64(reportCounter.WithLabelValues("FAILURE"))
	require.Equal(t, before+1, after)
}

func TestRecordBackoffObservesHistogram(t *testing.T) {
	var beforeMetric, afterMetric dto.Metric
	require.NoError(t, backoffDuration.Write(&beforeMetric))
	before := beforeMetric.GetHistogram().GetSampleCount()
	RecordBackoff(500 * time.Millisecond)
	require.NoError(t, backoffDuration.Write(&afterMetric))
	after := afterMetric.GetHistogram().GetSampleCount()
	require.Equal(t, before+1, after)
}

func TestRecordFailedRunIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(failedRunCounter)
	RecordFailedRun()
	after := testutil.ToFloat64(failedRunCounter)
	require.Equal(t, before+1, after)
}
