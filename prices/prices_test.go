package prices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestQueryPrices(t *testing.T) {
	var requestCount int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requestCount, 1)

		query := r.URL.Query()
		assert.Equal(t, "test-key", query.Get("api_token"))
		assert.Equal(t, "json", query.Get("fmt"))
		assert.Equal(t, "d", query.Get("period"))
		assert.Equal(t, "USD", query.Get("currency"))
		assert.Equal(t, "2024-01-01", query.Get("from"))

		switch r.URL.Path {
		case "/BTC":
			json.NewEncoder(w).Encode([]pricePoint{
				{Date: "2024-01-01", Close: 100},
				{Date: "2024-01-02", Close: 110.5},
				{Date: "bad-date", Close: 1},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	provider := NewHttpProvider(server.URL, "test-key")
	request := &Request{
		Assets:   []string{"BTC", "MISSING"},
		Currency: "USD",
		From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}

	series, err := provider.QueryPrices(context.Background(), request)
	assert.Equal(t, nil, err)

	// the failing asset is skipped, not fatal
	_, ok := series["MISSING"]
	assert.Equal(t, false, ok)

	points := series["BTC"]
	assert.Equal(t, 2, len(points))
	assert.Equal(t, "100", points[0].Price.String())
	assert.Equal(t, "110.5", points[1].Price.String())
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix(), points[1].Time.Unix())

	// a repeat query on the same day is served from the cache
	before := atomic.LoadInt64(&requestCount)
	series, err = provider.QueryPrices(context.Background(), request)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(series["BTC"]))
	// only the uncached asset goes back out
	assert.Equal(t, before+1, atomic.LoadInt64(&requestCount))
}
