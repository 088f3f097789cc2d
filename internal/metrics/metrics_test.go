package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetTransportStatus_OneHot(t *testing.T) {
	SetTransportStatus("usb", "printing")

	assert.Equal(t, 1.0, testutil.ToFloat64(transportStatus.WithLabelValues("usb", "printing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(transportStatus.WithLabelValues("usb", "connected")))

	SetTransportStatus("usb", "connected")
	assert.Equal(t, 0.0, testutil.ToFloat64(transportStatus.WithLabelValues("usb", "printing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(transportStatus.WithLabelValues("usb", "connected")))
}

func TestRecordPrintJob(t *testing.T) {
	before := testutil.ToFloat64(printJobsTotal.WithLabelValues("kitchen", "failure"))
	RecordPrintJob("kitchen", false)
	assert.Equal(t, before+1, testutil.ToFloat64(printJobsTotal.WithLabelValues("kitchen", "failure")))
}
