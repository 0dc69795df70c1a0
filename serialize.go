package sharedlock

import (
	"encoding/json"
	"time"
)

// wireHandle is the serialized shape of a Handle: its caller-side request,
// not any server-side state. requestedTtl is encoded as nanoseconds; -1
// round-trips as storage.Never.
type wireHandle struct {
	Key            string `json:"key"`
	OwnerID        string `json:"ownerId"`
	RequestedTTL   int64  `json:"requestedTtl"`
	RequestedLimit int    `json:"requestedLimit"`
}

// MarshalJSON implements json.Marshaler.
func (h *Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireHandle{
		Key:            h.Key,
		OwnerID:        h.OwnerID,
		RequestedTTL:   int64(h.RequestedTTL),
		RequestedLimit: h.RequestedLimit,
	})
}

// UnmarshalJSON implements json.Unmarshaler. It populates the request
// fields only; Handle.provider must still be set by the caller (typically
// via Provider.DecodeHandle) before the Handle can be used.
func (h *Handle) UnmarshalJSON(data []byte) error {
	var w wireHandle

	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	h.Key = w.Key
	h.OwnerID = w.OwnerID
	h.RequestedTTL = time.Duration(w.RequestedTTL)
	h.RequestedLimit = w.RequestedLimit

	return nil
}

// DecodeHandle deserializes a Handle previously produced by
// Handle.MarshalJSON and binds it to p, so its methods resolve against
// p's Store and Bus.
func (p *Provider) DecodeHandle(data []byte) (*Handle, error) {
	h := &Handle{provider: p}

	if err := json.Unmarshal(data, h); err != nil {
		return nil, err
	}

	return h, nil
}
