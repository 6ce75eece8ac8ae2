package conn

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// compressThreshold is the serialized-events size above which a batch
// envelope carries a gzip payload instead of a plain event array.
const compressThreshold = 32 << 10 // 32KB

// authRecord is the handshake message sent once per connection.
type authRecord struct {
	Token      string `json:"token"`
	InstanceID string `json:"instanceId"`
	Timestamp  int64  `json:"timestamp"`
}

// serverMessage is anything the platform sends back on the stream.
type serverMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	msgTypeAck   = "ack"
	msgTypeError = "error"
)

// batchEnvelope is the wire form of one batch. When Compressed is set,
// Payload holds the gzip of the JSON-encoded event array and Events is
// empty; otherwise Events carries the payloads directly.
type batchEnvelope struct {
	BatchID    string   `json:"batchId"`
	InstanceID string   `json:"instanceId"`
	SentAt     int64    `json:"sentAt"`
	Compressed bool     `json:"compressed"`
	Events     []string `json:"events,omitempty"`
	Payload    []byte   `json:"payload,omitempty"`
}

func encodeAuth(token, instanceID string) ([]byte, error) {
	return json.Marshal(authRecord{
		Token:      token,
		InstanceID: instanceID,
		Timestamp:  time.Now().UnixMilli(),
	})
}

func decodeServerMessage(data []byte) (serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return serverMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	return msg, nil
}

// encodeBatch builds the envelope for a batch of event payloads,
// compressing the event array when it is large enough to be worth it.
func encodeBatch(instanceID string, events []string) ([]byte, error) {
	env := batchEnvelope{
		BatchID:    uuid.NewString(),
		InstanceID: instanceID,
		SentAt:     time.Now().UnixMilli(),
	}

	raw, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}

	if len(raw) >= compressThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("compress events: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress events: %w", err)
		}
		env.Compressed = true
		env.Payload = buf.Bytes()
	} else {
		env.Events = events
	}

	return json.Marshal(env)
}
