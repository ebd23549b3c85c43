package ai

import (
	"encoding/json"
	"strings"
)

// MessageContent normalizes the shapes providers use for message content.
// A delta may arrive as a plain JSON string, as a single typed fragment
// object, or as a list of fragments. Decoding happens here, once, so code
// consuming tokens only ever sees plain text.
type MessageContent string

type contentFragment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts a string, a fragment object, or a fragment array.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent(s)
		return nil
	}

	var frag contentFragment
	if err := json.Unmarshal(data, &frag); err == nil {
		*c = MessageContent(frag.Text)
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var b strings.Builder
	for _, item := range raw {
		var part string
		if err := json.Unmarshal(item, &part); err == nil {
			b.WriteString(part)
			continue
		}
		var f contentFragment
		if err := json.Unmarshal(item, &f); err != nil {
			return err
		}
		b.WriteString(f.Text)
	}
	*c = MessageContent(b.String())
	return nil
}

// Text returns the normalized plain text.
func (c MessageContent) Text() string {
	return string(c)
}
