// Package frame defines the inbound/outbound JSON envelope shared by every
// hub component that talks to a connection.
package frame

import "encoding/json"

// Inbound is a self-describing request frame: {"type": "...", ...fields}.
// Fields beyond Type are decoded per-handler from Raw.
type Inbound struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Decode parses b into an Inbound, keeping the original bytes in Raw so a
// handler can re-decode its own field set.
func Decode(b []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return Inbound{}, err
	}
	in.Raw = b
	return in, nil
}

// Fields decodes the inbound frame's own fields into dst.
func (in Inbound) Fields(dst interface{}) error {
	return json.Unmarshal(in.Raw, dst)
}

// M is a JSON object under construction; every outbound frame is one of
// these. Kept as a plain map (mirroring the teacher's WSMessage{Type, Data}
// pattern, flattened to one level) since outbound field sets vary per type
// and this hub has no shared response schema to enforce.
type M map[string]interface{}

// Event builds an unsolicited event frame.
func Event(eventType string, fields M) M {
	out := M{"type": eventType}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Success builds a successful reply to a request-shaped frame.
func Success(replyType string, fields M) M {
	out := M{"type": replyType, "success": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Failure builds a failed reply carrying an error kind tag and message.
func Failure(replyType, kind, message string) M {
	return M{
		"type":    replyType,
		"success": false,
		"kind":    kind,
		"message": message,
	}
}

// ErrorEvent builds the generic unsolicited `error` event used when a
// handler fault has no natural reply type to attach to.
func ErrorEvent(kind, message string) M {
	return M{
		"type":    "error",
		"kind":    kind,
		"message": message,
	}
}
