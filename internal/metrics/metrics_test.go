package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMeterInstrument(t *testing.T) {

	MeterInstrument().RecordTime("GetStatus", 120*time.Millisecond)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(FetchDuration), 1)
}

func TestPollResults(t *testing.T) {

	assert := assert.New(t)

	before := testutil.ToFloat64(PollResults.WithLabelValues(POLL_RESULT_OK))
	PollResults.WithLabelValues(POLL_RESULT_OK).Inc()
	assert.Equal(before+1, testutil.ToFloat64(PollResults.WithLabelValues(POLL_RESULT_OK)))
}
