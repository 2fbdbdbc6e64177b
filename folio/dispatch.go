package folio

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/golang/glog"
)

// Request is one inbound frame. A frame with a functionId and no method
// is a fire-and-forget callback invocation.
type Request struct {
	Id         json.RawMessage   `json:"id,omitempty"`
	Method     string            `json:"method,omitempty"`
	Params     []json.RawMessage `json:"params,omitempty"`
	FunctionId string            `json:"functionId,omitempty"`
}

// Response correlates to a request by id. Exactly one response is sent
// per correlated request unless the connection is closed first.
type Response struct {
	Id         json.RawMessage `json:"id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StackTrace string          `json:"stackTrace,omitempty"`
}

// ApiCall is the per-invocation view handed to a method.
type ApiCall struct {
	Conn   *Connection
	Params []json.RawMessage
}

type ApiMethod func(ctx context.Context, call *ApiCall) (any, error)

// Api is the statically registered method surface.
type Api struct {
	mutex   sync.Mutex
	methods map[string]ApiMethod
}

func NewApi() *Api {
	return &Api{
		methods: map[string]ApiMethod{},
	}
}

func (self *Api) Register(name string, method ApiMethod) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.methods[name] = method
}

func (self *Api) method(name string) (ApiMethod, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	method, ok := self.methods[name]
	return method, ok
}

func (self *Connection) sendResponse(response *Response) {
	frame, err := json.Marshal(response)
	if err != nil {
		glog.Infof("[d]response marshal error = %s\n", err)
		return
	}
	self.sendFrame(frame)
}

// dispatch decodes one frame and services it. Correlated calls run in
// their own goroutine, so responses may complete out of order; callback
// invocations run inline, swallow errors and never send a response.
func (self *Api) dispatch(ctx context.Context, conn *Connection, message []byte) {
	var request Request
	if err := json.Unmarshal(message, &request); err != nil {
		conn.sendResponse(&Response{
			Error: fmt.Sprintf("cannot parse request: %s", err),
		})
		return
	}

	if request.FunctionId != "" {
		self.invokeCallback(conn, &request)
		return
	}

	method, ok := self.method(request.Method)
	if !ok {
		conn.sendResponse(&Response{
			Id:     request.Id,
			Method: request.Method,
			Error:  fmt.Sprintf("API method not found: %s", request.Method),
		})
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				conn.sendResponse(&Response{
					Id:         request.Id,
					Method:     request.Method,
					Error:      fmt.Sprintf("%v", r),
					StackTrace: string(debug.Stack()),
				})
			}
		}()

		result, err := method(ctx, &ApiCall{
			Conn:   conn,
			Params: request.Params,
		})
		if err != nil {
			glog.V(1).Infof("[d]%s error = %s\n", request.Method, err)
			conn.sendResponse(&Response{
				Id:     request.Id,
				Method: request.Method,
				Error:  err.Error(),
			})
			return
		}
		conn.sendResponse(&Response{
			Id:     request.Id,
			Method: request.Method,
			Result: conn.marshalResult(result),
		})
	}()
}

// invokeCallback services a fire-and-forget invocation frame. There is
// no caller to report back to; failures are logged and swallowed so the
// receive loop never sees them.
func (self *Api) invokeCallback(conn *Connection, request *Request) {
	defer func() {
		if r := recover(); r != nil {
			glog.Infof("[d]callback %s panic = %v\n", request.FunctionId, r)
		}
	}()

	fn, ok := conn.resolveFunction(request.FunctionId)
	if !ok {
		glog.Infof("[d]callback %s not registered\n", request.FunctionId)
		return
	}

	params := make([]any, 0, len(request.Params))
	for i := range request.Params {
		param, err := DecodeParam[any](request.Params, i)
		if err != nil {
			glog.Infof("[d]callback %s param error = %s\n", request.FunctionId, err)
			return
		}
		params = append(params, param)
	}
	fn(params...)
}
