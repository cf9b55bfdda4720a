package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.CollectAndCount(httpRequestDuration)

	ObserveHTTPRequest("get-capture-properties", http.StatusOK, 3*time.Millisecond)
	ObserveHTTPRequest("get-capture-properties", http.StatusOK, 5*time.Millisecond)
	ObserveHTTPRequest("", http.StatusNotFound, time.Millisecond)

	if got := testutil.CollectAndCount(httpRequestDuration); got != before+2 {
		t.Errorf("series = %d, want %d", got, before+2)
	}
}
