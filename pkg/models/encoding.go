package models

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// cborEnc keeps nanosecond precision for timestamps nested in mutations,
// regardless of the encoding mode of the outer codec.
var cborEnc = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("models: cbor enc mode: %v", err))
	}
	return em
}()

// mutationWire is the tagged-union shape of a PendingMutation.
// P is Payload when encoding and a raw message when decoding.
type mutationWire[P any] struct {
	ID             string     `json:"id"`
	RecordID       TaskID     `json:"record_id"`
	Kind           Kind       `json:"kind"`
	Payload        P          `json:"payload"`
	CreatedAt      time.Time  `json:"created_at"`
	RetryCount     int        `json:"retry_count"`
	OriginalRecord *Task      `json:"original_record,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	NeedsAttention bool       `json:"needs_attention,omitempty"`
}

func (m PendingMutation) wire() mutationWire[Payload] {
	return mutationWire[Payload]{
		ID:             m.ID,
		RecordID:       m.RecordID,
		Kind:           m.Kind,
		Payload:        m.Payload,
		CreatedAt:      m.CreatedAt,
		RetryCount:     m.RetryCount,
		OriginalRecord: m.OriginalRecord,
		LastError:      m.LastError,
		NextAttemptAt:  m.NextAttemptAt,
		NeedsAttention: m.NeedsAttention,
	}
}

func fromWire[P any](w mutationWire[P], p Payload) PendingMutation {
	return PendingMutation{
		ID:             w.ID,
		RecordID:       w.RecordID,
		Kind:           w.Kind,
		Payload:        p,
		CreatedAt:      w.CreatedAt,
		RetryCount:     w.RetryCount,
		OriginalRecord: w.OriginalRecord,
		LastError:      w.LastError,
		NextAttemptAt:  w.NextAttemptAt,
		NeedsAttention: w.NeedsAttention,
	}
}

func (m PendingMutation) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

func (m *PendingMutation) UnmarshalJSON(data []byte) error {
	var w mutationWire[json.RawMessage]
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Kind, func(dst any) error {
		return json.Unmarshal(w.Payload, dst)
	})
	if err != nil {
		return err
	}
	*m = fromWire(w, p)
	return nil
}

func (m PendingMutation) MarshalCBOR() ([]byte, error) {
	return cborEnc.Marshal(m.wire())
}

func (m *PendingMutation) UnmarshalCBOR(data []byte) error {
	var w mutationWire[cbor.RawMessage]
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Kind, func(dst any) error {
		return cbor.Unmarshal(w.Payload, dst)
	})
	if err != nil {
		return err
	}
	*m = fromWire(w, p)
	return nil
}

// DecodePayload decodes the payload of kind k using unmarshal, which is
// handed a pointer to the concrete payload type.
func DecodePayload(k Kind, unmarshal func(dst any) error) (Payload, error) {
	switch k {
	case KindStatus:
		return decodeAs[StatusPayload](unmarshal)
	case KindCheckbox:
		return decodeAs[CheckboxPayload](unmarshal)
	case KindTitle:
		return decodeAs[TitlePayload](unmarshal)
	case KindDoDate:
		return decodeAs[DoDatePayload](unmarshal)
	case KindDueDate:
		return decodeAs[DueDatePayload](unmarshal)
	case KindCompletedDate:
		return decodeAs[CompletedDatePayload](unmarshal)
	case KindTaskType:
		return decodeAs[TaskTypePayload](unmarshal)
	case KindProject:
		return decodeAs[ProjectPayload](unmarshal)
	case KindURL:
		return decodeAs[URLPayload](unmarshal)
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, k)
}

func decodeAs[P Payload](unmarshal func(dst any) error) (Payload, error) {
	var p P
	if err := unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", p.Kind(), err)
	}
	return p, nil
}
