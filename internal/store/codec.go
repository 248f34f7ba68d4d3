package store

import (
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/sugawarayuuta/sonnet"
)

func encodeEvent(evt model.Event) ([]byte, error) {
	b, err := sonnet.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

func decodeEvent(b []byte) (model.Event, error) {
	var evt model.Event
	if err := sonnet.Unmarshal(b, &evt); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return evt, nil
}
