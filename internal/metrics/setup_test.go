package metrics

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestMain registers the metrics once so parallel tests can record into them.
func TestMain(m *testing.M) {
	if err := Init(prometheus.NewRegistry()); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
