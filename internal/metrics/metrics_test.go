package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, Handler())
}

func TestObserversDoNotPanic(t *testing.T) {
	Init()
	ObserveFetch("vgsi", "ok", 1024)
	ObserveFetch("vgsi", "failed", 0)
	ObserveRetry("vgsi")
	ObserveCache("fetch", "hit")
	ObserveCache("extract", "miss")
	ObserveExtraction("application/pdf", "ok")
	ObserveOCR()
	ObserveNormalization("ok")
	SetClusterCount(12)
	ObserveRateLimitDelay("vgsi", 250*time.Millisecond)
}
