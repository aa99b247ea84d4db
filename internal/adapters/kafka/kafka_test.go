package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"

	"realtime-service/internal/store"
	"realtime-service/pkg/logger"
)

func testBridge(publish PublishFunc) *Bridge {
	return &Bridge{
		topic:   "store-changes",
		publish: publish,
		logger:  logger.New("error"),
	}
}

func TestHandleDecodesChangeEvents(t *testing.T) {
	var gotResource string
	var gotEvent store.EventKind
	var gotRecord store.Record

	b := testBridge(func(resource string, event store.EventKind, record store.Record) {
		gotResource = resource
		gotEvent = event
		gotRecord = record
	})

	value, _ := json.Marshal(map[string]interface{}{
		"resource": "tasks",
		"event":    "update",
		"data":     map[string]interface{}{"id": "1", "done": true},
	})
	b.handle(&sarama.ConsumerMessage{Topic: "store-changes", Value: value})

	if gotResource != "tasks" || gotEvent != store.EventUpdate {
		t.Errorf("published (%s, %s), want (tasks, update)", gotResource, gotEvent)
	}
	if gotRecord["id"] != "1" {
		t.Errorf("record = %v", gotRecord)
	}
}

func TestHandleDropsBadMessages(t *testing.T) {
	calls := 0
	b := testBridge(func(string, store.EventKind, store.Record) { calls++ })

	for _, value := range []string{
		`not json`,
		`{"resource":"tasks","event":"rename","data":{"id":"1"}}`,
		`{"event":"insert","data":{"id":"1"}}`,
		`{"resource":"tasks","event":"insert"}`,
	} {
		b.handle(&sarama.ConsumerMessage{Topic: "store-changes", Value: []byte(value)})
	}

	if calls != 0 {
		t.Errorf("publish called %d times for invalid messages, want 0", calls)
	}
}
