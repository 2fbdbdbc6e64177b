package folio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/folionet/folio/ledger"
	"github.com/folionet/folio/prices"
)

type stubProvider struct{}

func (self stubProvider) QueryPrices(ctx context.Context, request *prices.Request) (prices.Series, error) {
	series := prices.Series{}
	for _, asset := range request.Assets {
		series[asset] = []prices.Point{
			{
				Time:  time.Now().UTC().Truncate(24 * time.Hour),
				Price: decimal.NewFromInt(100),
			},
		}
	}
	return series, nil
}

type testServer struct {
	t          *testing.T
	server     *Server
	httpServer *httptest.Server
	token      string
}

func newTestServer(t *testing.T) *testServer {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := ledger.NewSqliteStore(filepath.Join(t.TempDir(), "folio.db"))
	assert.Equal(t, nil, err)
	t.Cleanup(func() {
		store.Close()
	})

	computer := ledger.NewComputer(store, stubProvider{}, "USD")

	settings := DefaultServerSettings()
	settings.FilesDir = t.TempDir()
	settings.CascadeSettings = &CascadeSettings{
		DebounceTimeout: 50 * time.Millisecond,
		MaxWaitTimeout:  500 * time.Millisecond,
		Bucket:          24 * time.Hour,
	}
	server, err := NewServer(ctx, store, computer, settings)
	assert.Equal(t, nil, err)
	t.Cleanup(server.Close)

	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	self := &testServer{
		t:          t,
		server:     server,
		httpServer: httpServer,
	}
	self.post("/api/setup", map[string]string{"password": "hunter2"}, http.StatusOK)
	body := self.post("/api/login", map[string]string{"password": "hunter2"}, http.StatusOK)
	self.token = body["token"].(string)
	return self
}

func (self *testServer) post(path string, args any, expectStatus int) map[string]any {
	self.t.Helper()
	body, _ := json.Marshal(args)
	resp, err := http.Post(self.httpServer.URL+path, "application/json", bytes.NewReader(body))
	assert.Equal(self.t, nil, err)
	defer resp.Body.Close()
	assert.Equal(self.t, expectStatus, resp.StatusCode)
	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func (self *testServer) wsUrl(token string) string {
	wsUrl := "ws" + strings.TrimPrefix(self.httpServer.URL, "http") + "/ws"
	if token != "" {
		wsUrl += "?token=" + token
	}
	return wsUrl
}

// one frame in either direction
type testFrame struct {
	Id         json.RawMessage   `json:"id,omitempty"`
	Method     string            `json:"method,omitempty"`
	Params     []json.RawMessage `json:"params,omitempty"`
	FunctionId string            `json:"functionId,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	StackTrace string            `json:"stackTrace,omitempty"`
}

type wsClient struct {
	t      *testing.T
	ws     *websocket.Conn
	nextId int
	// fire and forget invocation frames received between responses
	callbacks chan *testFrame
}

func (self *testServer) dial() *wsClient {
	self.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(self.wsUrl(self.token), nil)
	assert.Equal(self.t, nil, err)
	self.t.Cleanup(func() {
		ws.Close()
	})
	return &wsClient{
		t:         self.t,
		ws:        ws,
		callbacks: make(chan *testFrame, 16),
	}
}

func (self *wsClient) send(frame *testFrame) {
	self.t.Helper()
	data, err := json.Marshal(frame)
	assert.Equal(self.t, nil, err)
	err = self.ws.WriteMessage(websocket.TextMessage, data)
	assert.Equal(self.t, nil, err)
}

func (self *wsClient) read() *testFrame {
	self.t.Helper()
	self.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := self.ws.ReadMessage()
	assert.Equal(self.t, nil, err)
	var frame testFrame
	err = json.Unmarshal(data, &frame)
	assert.Equal(self.t, nil, err)
	return &frame
}

// call sends one correlated request and waits for its response, queueing
// any invocation frames that arrive in between.
func (self *wsClient) call(method string, params ...any) *testFrame {
	self.t.Helper()
	self.nextId += 1
	id := json.RawMessage(fmt.Sprintf("%d", self.nextId))

	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		raw, err := json.Marshal(param)
		assert.Equal(self.t, nil, err)
		rawParams = append(rawParams, raw)
	}
	self.send(&testFrame{
		Id:     id,
		Method: method,
		Params: rawParams,
	})

	for {
		frame := self.read()
		if frame.FunctionId != "" {
			self.callbacks <- frame
			continue
		}
		if bytes.Equal(frame.Id, id) {
			return frame
		}
	}
}

func (self *wsClient) waitCallback() *testFrame {
	self.t.Helper()
	for {
		select {
		case frame := <-self.callbacks:
			return frame
		default:
		}
		self.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := self.ws.ReadMessage()
		assert.Equal(self.t, nil, err)
		var frame testFrame
		err = json.Unmarshal(data, &frame)
		assert.Equal(self.t, nil, err)
		if frame.FunctionId != "" {
			return &frame
		}
	}
}

func functionRefParam(functionId string) map[string]any {
	return map[string]any{
		"__isFunction": true,
		"functionId":   functionId,
	}
}

func TestServerUnauthenticatedClose(t *testing.T) {
	server := newTestServer(t)

	for _, token := range []string{"", "not-a-token"} {
		ws, _, err := websocket.DefaultDialer.Dial(server.wsUrl(token), nil)
		assert.Equal(t, nil, err)

		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err = ws.ReadMessage()
		assert.Equal(t, true, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
		ws.Close()
	}
}

func TestServerUnknownMethod(t *testing.T) {
	server := newTestServer(t)
	client := server.dial()

	response := client.call("frobnicate")
	assert.Equal(t, "API method not found: frobnicate", response.Error)
}

func TestServerAccountsAndTransactions(t *testing.T) {
	server := newTestServer(t)
	client := server.dial()

	response := client.call("createAccount", "main")
	assert.Equal(t, "", response.Error)

	response = client.call("getAccounts")
	var accounts []string
	json.Unmarshal(response.Result, &accounts)
	assert.Equal(t, []string{"main"}, accounts)

	response = client.call("addTransaction", "main", TransactionArgs{
		Time:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		Type:   "deposit",
		Asset:  "btc",
		Amount: "1",
	})
	assert.Equal(t, "", response.Error)
	var txId string
	json.Unmarshal(response.Result, &txId)
	assert.NotEqual(t, "", txId)

	response = client.call("getTransactions", "main", 0)
	var transactions []TransactionArgs
	json.Unmarshal(response.Result, &transactions)
	assert.Equal(t, 1, len(transactions))
	assert.Equal(t, txId, transactions[0].Id)
	// asset symbols are normalized
	assert.Equal(t, "BTC", transactions[0].Asset)

	response = client.call("addTransaction", "missing", TransactionArgs{
		Time:   time.Now().UnixMilli(),
		Type:   "deposit",
		Asset:  "BTC",
		Amount: "1",
	})
	assert.Equal(t, "account not found: missing", response.Error)
}

func TestServerSubscriptionRoundTrip(t *testing.T) {
	server := newTestServer(t)
	client := server.dial()

	response := client.call("createAccount", "main")
	assert.Equal(t, "", response.Error)

	response = client.call("subscribe", "main", "key-value", functionRefParam("cb-1"))
	assert.Equal(t, "", response.Error)
	var subscriptionId string
	json.Unmarshal(response.Result, &subscriptionId)
	assert.NotEqual(t, "", subscriptionId)

	response = client.call("setKeyValue", "main", "favorite", "blue")
	assert.Equal(t, "", response.Error)

	callback := client.waitCallback()
	assert.Equal(t, "cb-1", callback.FunctionId)
	assert.Equal(t, 1, len(callback.Params))
	var event struct {
		Channel     string `json:"channel"`
		AccountName string `json:"accountName"`
		Payload     struct {
			Key string `json:"key"`
		} `json:"payload"`
	}
	json.Unmarshal(callback.Params[0], &event)
	assert.Equal(t, "key-value", event.Channel)
	assert.Equal(t, "main", event.AccountName)
	assert.Equal(t, "favorite", event.Payload.Key)

	response = client.call("unsubscribe", subscriptionId, false)
	assert.Equal(t, "", response.Error)

	client.call("setKeyValue", "main", "favorite", "red")
	select {
	case frame := <-client.callbacks:
		t.Fatalf("unexpected callback: %+v", frame)
	case <-time.After(200 * time.Millisecond):
	}

	// unknown channel is rejected before registering anything
	response = client.call("subscribe", "main", "nonsense", functionRefParam("cb-2"))
	assert.Equal(t, "unknown channel: nonsense", response.Error)
}

func TestServerImportCascade(t *testing.T) {
	server := newTestServer(t)
	client := server.dial()

	response := client.call("createAccount", "main")
	assert.Equal(t, "", response.Error)

	csvData := strings.Join([]string{
		"time,type,asset,amount,fee,price,wallet,note",
		"2024-01-01T00:00:00Z,deposit,BTC,1,,,cold,",
		"2024-01-02T00:00:00Z,deposit,BTC,0.5,,,cold,",
		"2024-01-03T00:00:00Z,withdrawal,BTC,-0.2,,,cold,",
	}, "\n")
	response = client.call("importTransactions", "main", csvData)
	assert.Equal(t, "", response.Error)
	var imported int
	json.Unmarshal(response.Result, &imported)
	assert.Equal(t, 3, imported)

	// the import burst coalesces into one cascade run that rebuilds the
	// derived views
	deadline := time.Now().Add(10 * time.Second)
	for {
		response = client.call("getBalances", "main")
		assert.Equal(t, "", response.Error)
		var balances map[string]string
		json.Unmarshal(response.Result, &balances)
		if balances["BTC"] == "1.3" {
			break
		}
		if !time.Now().Before(deadline) {
			t.Fatalf("balances never converged: %v", balances)
		}
		time.Sleep(50 * time.Millisecond)
	}

	response = client.call("getNetWorth", "main", 0)
	assert.Equal(t, "", response.Error)
	var snapshots []map[string]any
	json.Unmarshal(response.Result, &snapshots)
	assert.Equal(t, true, 0 < len(snapshots))
}

func TestServerRefreshPricesHandle(t *testing.T) {
	server := newTestServer(t)
	client := server.dial()

	response := client.call("createAccount", "main")
	assert.Equal(t, "", response.Error)

	response = client.call("refreshPrices", "main")
	assert.Equal(t, "", response.Error)
	var ref FunctionRef
	json.Unmarshal(response.Result, &ref)
	assert.Equal(t, true, ref.IsFunction)
	assert.NotEqual(t, "", ref.FunctionId)

	// invoking the returned handle is fire and forget
	client.send(&testFrame{
		FunctionId: ref.FunctionId,
	})

	// the connection still services calls afterward
	response = client.call("getAccounts")
	assert.Equal(t, "", response.Error)
}

func TestServerSetupAndLogin(t *testing.T) {
	server := newTestServer(t)

	// setup is once only
	server.post("/api/setup", map[string]string{"password": "other"}, http.StatusConflict)
	server.post("/api/login", map[string]string{"password": "wrong"}, http.StatusUnauthorized)

	resp, err := http.Get(server.httpServer.URL + "/api/status")
	assert.Equal(t, nil, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	status := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&status)
	assert.Equal(t, true, status["setUp"])
}

func TestServerFiles(t *testing.T) {
	server := newTestServer(t)

	upload := func(token string, name string, content string) int {
		req, _ := http.NewRequest(
			"POST",
			server.httpServer.URL+"/api/files/upload/"+name,
			strings.NewReader(content),
		)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		assert.Equal(t, nil, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	download := func(token string, name string) (int, string) {
		req, _ := http.NewRequest(
			"GET",
			server.httpServer.URL+"/api/files/download/"+name,
			nil,
		)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		assert.Equal(t, nil, err)
		defer resp.Body.Close()
		buf := &bytes.Buffer{}
		buf.ReadFrom(resp.Body)
		return resp.StatusCode, buf.String()
	}

	assert.Equal(t, http.StatusUnauthorized, upload("", "backup.dat", "x"))

	assert.Equal(t, http.StatusOK, upload(server.token, "backup.dat", "payload"))
	// uploads never overwrite
	assert.Equal(t, http.StatusConflict, upload(server.token, "backup.dat", "other"))

	status, content := download(server.token, "backup.dat")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "payload", content)

	status, _ = download(server.token, "missing.dat")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = download("", "backup.dat")
	assert.Equal(t, http.StatusUnauthorized, status)
}
