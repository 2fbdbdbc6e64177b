package folio

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestIdRoundTrip(t *testing.T) {
	id := NewId()
	assert.NotEqual(t, Id{}, id)

	parsed, err := ParseId(id.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, id, parsed)

	_, err = ParseId("not-a-uuid")
	assert.NotEqual(t, nil, err)
}

func TestIdUnique(t *testing.T) {
	seen := map[Id]bool{}
	for i := 0; i < 1000; i += 1 {
		id := NewId()
		assert.Equal(t, false, seen[id])
		seen[id] = true
	}
}

func TestIdJson(t *testing.T) {
	id := NewId()

	data, err := json.Marshal(id)
	assert.Equal(t, nil, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var parsed Id
	err = json.Unmarshal(data, &parsed)
	assert.Equal(t, nil, err)
	assert.Equal(t, id, parsed)
}

// an id inside an event payload travels through `any`, where the value
// is not addressable. it must still marshal as a uuid string a client
// can feed back into the string-id APIs.
func TestIdJsonInEventPayload(t *testing.T) {
	taskId := NewId()
	data, err := json.Marshal(Event{
		Channel:     ChannelTaskList,
		AccountName: "main",
		Payload: TaskListEvent{
			TaskId: taskId,
			Name:   "cascade",
		},
	})
	assert.Equal(t, nil, err)

	var event struct {
		Payload struct {
			TaskId string `json:"taskId"`
		} `json:"payload"`
	}
	err = json.Unmarshal(data, &event)
	assert.Equal(t, nil, err)
	assert.Equal(t, taskId.String(), event.Payload.TaskId)

	parsed, err := ParseId(event.Payload.TaskId)
	assert.Equal(t, nil, err)
	assert.Equal(t, taskId, parsed)
}
