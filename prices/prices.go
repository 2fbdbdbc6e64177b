// Package prices is the outbound price-fetching surface. The server core
// consumes it through the one-method Provider interface; everything else
// here is one concrete HTTP implementation.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/golang/glog"
)

type Request struct {
	Assets   []string
	Currency string
	From     time.Time
	To       time.Time
}

type Point struct {
	Time  time.Time
	Price decimal.Decimal
}

// Series maps asset to daily price points, ascending in time.
type Series map[string][]Point

type Provider interface {
	QueryPrices(ctx context.Context, request *Request) (Series, error)
}

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// HttpProvider fetches daily close prices from a JSON price API. Same
// response for the same asset/day is served from a small in-memory
// cache so overlapping refresh passes do not refetch.
type HttpProvider struct {
	apiUrl string
	apiKey string

	client *http.Client

	cacheMutex sync.Mutex
	cache      map[string][]Point
}

func NewHttpProvider(apiUrl string, apiKey string) *HttpProvider {
	return &HttpProvider{
		apiUrl: apiUrl,
		apiKey: apiKey,
		client: defaultClient(),
		cache:  map[string][]Point{},
	}
}

type pricePoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

func (self *HttpProvider) QueryPrices(ctx context.Context, request *Request) (Series, error) {
	series := Series{}
	for _, asset := range request.Assets {
		points, err := self.queryAsset(ctx, asset, request)
		if err != nil {
			// one failed asset must not sink the whole series
			glog.Infof("[p]%s error = %s\n", asset, err)
			continue
		}
		series[asset] = points
	}
	return series, nil
}

func (self *HttpProvider) queryAsset(ctx context.Context, asset string, request *Request) ([]Point, error) {
	cacheKey := fmt.Sprintf(
		"%s %s %s %s %s",
		time.Now().UTC().Format("2006-01-02"),
		asset,
		request.Currency,
		request.From.UTC().Format("2006-01-02"),
		request.To.UTC().Format("2006-01-02"),
	)
	self.cacheMutex.Lock()
	points, ok := self.cache[cacheKey]
	self.cacheMutex.Unlock()
	if ok {
		return points, nil
	}

	query := url.Values{}
	query.Set("api_token", self.apiKey)
	query.Set("fmt", "json")
	query.Set("period", "d")
	query.Set("currency", request.Currency)
	if !request.From.IsZero() {
		query.Set("from", request.From.UTC().Format("2006-01-02"))
	}
	if !request.To.IsZero() {
		query.Set("to", request.To.UTC().Format("2006-01-02"))
	}
	queryUrl := fmt.Sprintf(
		"%s/%s?%s",
		strings.TrimSuffix(self.apiUrl, "/"),
		url.PathEscape(asset),
		query.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, "GET", queryUrl, nil)
	if err != nil {
		return nil, err
	}
	resp, err := self.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price query status %d", resp.StatusCode)
	}

	var pricePoints []pricePoint
	if err := json.NewDecoder(resp.Body).Decode(&pricePoints); err != nil {
		return nil, err
	}

	points = make([]Point, 0, len(pricePoints))
	for _, p := range pricePoints {
		t, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			continue
		}
		points = append(points, Point{
			Time:  t,
			Price: decimal.NewFromFloat(p.Close),
		})
	}

	self.cacheMutex.Lock()
	self.cache[cacheKey] = points
	self.cacheMutex.Unlock()
	return points, nil
}
