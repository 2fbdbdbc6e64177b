package folio

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
)

// RemoteFunc is the one callable shape that can cross a connection, as a
// top-level parameter or as a top-level result. Marshalling is shallow:
// a callable nested inside a structure is never rewritten, it passes
// through as opaque data. This is deliberate; see the wire contract.
type RemoteFunc func(params ...any)

// FunctionRef is the wire stand-in for a callable. It is a weak handle:
// it never outlives the connection whose registry minted it.
type FunctionRef struct {
	IsFunction bool   `json:"__isFunction"`
	FunctionId string `json:"functionId"`
}

// the protocol transmits the string "undefined" for an absent parameter
var undefinedParam = []byte(`"undefined"`)

// asFunctionRef reports whether an entire raw value is a function
// reference.
func asFunctionRef(raw json.RawMessage) (FunctionRef, bool) {
	if len(raw) == 0 || raw[0] != '{' {
		return FunctionRef{}, false
	}
	var ref FunctionRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return FunctionRef{}, false
	}
	if !ref.IsFunction || ref.FunctionId == "" {
		return FunctionRef{}, false
	}
	return ref, true
}

// registerFunction mints a fresh token for a local callable and stores it
// in the connection's registry. Tokens are unique for the connection's
// lifetime.
func (self *Connection) registerFunction(fn RemoteFunc) FunctionRef {
	functionId := NewId().String()

	self.stateMutex.Lock()
	if self.functions != nil {
		self.functions[functionId] = fn
	}
	self.stateMutex.Unlock()

	return FunctionRef{
		IsFunction: true,
		FunctionId: functionId,
	}
}

// resolveFunction looks a token up in the connection's registry. After
// close the registry is gone and every token is stale.
func (self *Connection) resolveFunction(functionId string) (RemoteFunc, bool) {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()

	if self.functions == nil {
		return nil, false
	}
	fn, ok := self.functions[functionId]
	return fn, ok
}

// remoteFunc turns an inbound function reference into a local callable.
// Invoking it sends a fire-and-forget invocation frame back over the same
// connection. No response is expected for these frames.
func (self *Connection) remoteFunc(ref FunctionRef) RemoteFunc {
	return func(params ...any) {
		rawParams := make([]json.RawMessage, 0, len(params))
		for _, param := range params {
			raw, err := json.Marshal(param)
			if err != nil {
				glog.Infof("[m]invoke %s marshal error = %s\n", ref.FunctionId, err)
				return
			}
			rawParams = append(rawParams, raw)
		}
		frame, err := json.Marshal(&Request{
			FunctionId: ref.FunctionId,
			Params:     rawParams,
		})
		if err != nil {
			glog.Infof("[m]invoke %s marshal error = %s\n", ref.FunctionId, err)
			return
		}
		self.sendFrame(frame)
	}
}

// marshalResult rewrites a callable result into a function reference.
// Any other value passes through unchanged.
func (self *Connection) marshalResult(result any) any {
	if fn, ok := result.(RemoteFunc); ok {
		return self.registerFunction(fn)
	}
	return result
}

// DecodeParam decodes params[i] into T. A missing parameter or the
// "undefined" sentinel decodes to the zero value.
func DecodeParam[T any](params []json.RawMessage, i int) (T, error) {
	var out T
	if len(params) <= i {
		return out, nil
	}
	raw := params[i]
	if len(raw) == 0 || bytes.Equal(raw, undefinedParam) || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("param %d: %w", i, err)
	}
	return out, nil
}

// FuncParam resolves params[i] as a function reference into a callable
// bound to the connection. Absent params resolve to nil.
func FuncParam(conn *Connection, params []json.RawMessage, i int) (RemoteFunc, error) {
	if len(params) <= i {
		return nil, nil
	}
	raw := params[i]
	if len(raw) == 0 || bytes.Equal(raw, undefinedParam) || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	ref, ok := asFunctionRef(raw)
	if !ok {
		return nil, fmt.Errorf("param %d: not a function reference", i)
	}
	return conn.remoteFunc(ref), nil
}
