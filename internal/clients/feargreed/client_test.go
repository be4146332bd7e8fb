package feargreed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{"data":[
	{"value":"65","value_classification":"Greed","timestamp":"1755993600","time_until_update":"3600"},
	{"value":"48","value_classification":"Neutral","timestamp":"1755907200"}
]}`

func TestCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.New(nil).Level(zerolog.Disabled))
	idx, err := c.Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 65, idx.Value)
	assert.Equal(t, "Greed", idx.Classification)
	assert.Equal(t, time.Unix(1755993600, 0).UTC(), idx.Timestamp)
}

func TestHistoryPassesLimit(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.New(nil).Level(zerolog.Disabled))
	points, err := c.History(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, "30", gotLimit)
	require.Len(t, points, 2)
	assert.Equal(t, 48, points[1].Value)
	assert.Equal(t, "Neutral", points[1].Classification)
}

func TestCurrentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := c.Current(context.Background())
	assert.Error(t, err)
}
