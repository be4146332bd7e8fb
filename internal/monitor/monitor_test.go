package monitor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndLatest(t *testing.T) {
	m := New()

	m.Record("Binance API", "REST", true, 120, "ok")
	m.Record("FRED API", "Macro", false, 0, "timeout")
	m.Record("Binance API", "REST", false, 5000, "HTTP 429")

	latest := m.Latest()
	require.Len(t, latest, 2)

	byName := make(map[string]Entry)
	for _, e := range latest {
		byName[e.Name] = e
	}
	assert.Equal(t, StatusError, byName["Binance API"].Status)
	assert.Equal(t, "HTTP 429", byName["Binance API"].Message)
	assert.Equal(t, StatusError, byName["FRED API"].Status)
}

func TestHistoryBounded(t *testing.T) {
	m := New()
	for i := 0; i < maxHistory+50; i++ {
		m.Record("svc", "REST", true, i, fmt.Sprintf("msg %d", i))
	}

	history := m.History(0)
	assert.Len(t, history, maxHistory)
	// Oldest retained entry is the 50th recorded.
	assert.Equal(t, "msg 50", history[0].Message)
	assert.Equal(t, fmt.Sprintf("msg %d", maxHistory+49), history[len(history)-1].Message)
}

func TestHistoryLimit(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Record("svc", "REST", true, i, fmt.Sprintf("msg %d", i))
	}

	history := m.History(3)
	require.Len(t, history, 3)
	assert.Equal(t, "msg 7", history[0].Message)
	assert.Equal(t, "msg 9", history[2].Message)
}

func TestConcurrentRecord(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Record(fmt.Sprintf("svc-%d", n%4), "REST", j%2 == 0, j, "")
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.Latest(), 4)
	assert.Len(t, m.History(0), maxHistory)
}
