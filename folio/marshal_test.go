package folio

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testConnection(ctx context.Context) *Connection {
	return newConnection(ctx, nil, true, DefaultConnectionSettings())
}

func readFrame(t *testing.T, conn *Connection) []byte {
	t.Helper()
	select {
	case frame := <-conn.send:
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("no frame")
		return nil
	}
}

func TestDecodeParam(t *testing.T) {
	params := []json.RawMessage{
		json.RawMessage(`"hello"`),
		json.RawMessage(`"undefined"`),
		json.RawMessage(`null`),
		json.RawMessage(`42`),
	}

	s, err := DecodeParam[string](params, 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello", s)

	// the undefined sentinel decodes to the zero value
	s, err = DecodeParam[string](params, 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, "", s)

	s, err = DecodeParam[string](params, 2)
	assert.Equal(t, nil, err)
	assert.Equal(t, "", s)

	n, err := DecodeParam[int](params, 3)
	assert.Equal(t, nil, err)
	assert.Equal(t, 42, n)

	// missing is zero, not an error
	s, err = DecodeParam[string](params, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, "", s)

	// a type mismatch is an error
	_, err = DecodeParam[int](params, 0)
	assert.NotEqual(t, nil, err)
}

func TestAsFunctionRef(t *testing.T) {
	ref, ok := asFunctionRef(json.RawMessage(`{"__isFunction":true,"functionId":"abc"}`))
	assert.Equal(t, true, ok)
	assert.Equal(t, "abc", ref.FunctionId)

	_, ok = asFunctionRef(json.RawMessage(`{"functionId":"abc"}`))
	assert.Equal(t, false, ok)

	_, ok = asFunctionRef(json.RawMessage(`{"__isFunction":true}`))
	assert.Equal(t, false, ok)

	_, ok = asFunctionRef(json.RawMessage(`"abc"`))
	assert.Equal(t, false, ok)

	_, ok = asFunctionRef(json.RawMessage(`[1,2]`))
	assert.Equal(t, false, ok)
}

func TestFunctionTokenUniqueness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := testConnection(ctx)

	tokens := map[string]bool{}
	for i := 0; i < 100; i += 1 {
		ref := conn.registerFunction(func(params ...any) {})
		assert.Equal(t, true, ref.IsFunction)
		assert.Equal(t, false, tokens[ref.FunctionId])
		tokens[ref.FunctionId] = true

		_, ok := conn.resolveFunction(ref.FunctionId)
		assert.Equal(t, true, ok)
	}

	_, ok := conn.resolveFunction("missing")
	assert.Equal(t, false, ok)
}

func TestMarshalResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := testConnection(ctx)

	out := conn.marshalResult(RemoteFunc(func(params ...any) {}))
	ref, ok := out.(FunctionRef)
	assert.Equal(t, true, ok)
	assert.Equal(t, true, ref.IsFunction)

	// anything else passes through untouched
	out = conn.marshalResult("plain")
	assert.Equal(t, "plain", out)
}

func TestRemoteFuncSendsInvocationFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := testConnection(ctx)

	params := []json.RawMessage{
		json.RawMessage(`{"__isFunction":true,"functionId":"f1"}`),
	}
	fn, err := FuncParam(conn, params, 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, fn == nil)

	fn("hello", 7)

	var request Request
	err = json.Unmarshal(readFrame(t, conn), &request)
	assert.Equal(t, nil, err)
	assert.Equal(t, "f1", request.FunctionId)
	assert.Equal(t, "", request.Method)
	assert.Equal(t, 0, len(request.Id))
	assert.Equal(t, 2, len(request.Params))
	assert.Equal(t, `"hello"`, string(request.Params[0]))
	assert.Equal(t, `7`, string(request.Params[1]))
}

func TestFuncParamAbsent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := testConnection(ctx)

	fn, err := FuncParam(conn, []json.RawMessage{json.RawMessage(`"undefined"`)}, 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, fn == nil)

	fn, err = FuncParam(conn, nil, 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, fn == nil)

	// a non-reference value in a callable position is an error
	_, err = FuncParam(conn, []json.RawMessage{json.RawMessage(`"abc"`)}, 0)
	assert.NotEqual(t, nil, err)
}
