package models

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayloads() []Payload {
	d := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	return []Payload{
		StatusPayload{Status: "In progress"},
		CheckboxPayload{Done: true},
		TitlePayload{Title: "Buy milk"},
		DoDatePayload{Date: &d},
		DueDatePayload{},
		CompletedDatePayload{Date: &d},
		TaskTypePayload{Value: SelectProperty(SelectOption{ID: "o1", Name: "Chore", Color: "red"})},
		ProjectPayload{Value: RelationProperty("p1", "p2")},
		URLPayload{URL: "https://example.com/a"},
	}
}

func TestPayloadsCoverEveryKind(t *testing.T) {
	seen := map[Kind]bool{}
	for _, p := range samplePayloads() {
		seen[p.Kind()] = true
	}
	for _, k := range Kinds {
		assert.True(t, seen[k], "no sample payload for %s", k)
	}
}

func TestPayloadApplyMatches(t *testing.T) {
	for _, p := range samplePayloads() {
		t.Run(string(p.Kind()), func(t *testing.T) {
			task := &Task{ID: "t1", Title: "old", Status: "Todo", URL: "https://old.example"}
			before := task.Clone()
			p.Apply(task)
			assert.True(t, p.Matches(task))
			for _, k := range Kinds {
				if k == p.Kind() {
					continue
				}
				assert.True(t, FieldEqual(k, before, task), "apply of %s touched %s", p.Kind(), k)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload(KindTitle, TitlePayload{Title: "x"}))

	err := ValidatePayload(KindTitle, StatusPayload{Status: "x"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	assert.ErrorIs(t, ValidatePayload(KindTitle, nil), ErrInvalidPayload)
	assert.ErrorIs(t, ValidatePayload("colour", TitlePayload{Title: "x"}), ErrInvalidPayload)
	assert.ErrorIs(t, ValidatePayload(KindTitle, TitlePayload{Title: "  "}), ErrInvalidPayload)
	assert.ErrorIs(t, ValidatePayload(KindURL, URLPayload{URL: "not a url"}), ErrInvalidPayload)
	assert.NoError(t, ValidatePayload(KindURL, URLPayload{}))
	assert.ErrorIs(t, ValidatePayload(KindProject, ProjectPayload{Value: RelationProperty("")}), ErrInvalidPayload)
}

func TestFieldEqualPanicsOnUnknownKind(t *testing.T) {
	assert.Panics(t, func() { FieldEqual("colour", &Task{}, &Task{}) })
}

func TestPendingMutationDue(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Minute)

	m := PendingMutation{}
	assert.True(t, m.Due(now))

	m.NextAttemptAt = &later
	assert.False(t, m.Due(now))
	assert.True(t, m.Due(later))

	m.NextAttemptAt = nil
	m.NeedsAttention = true
	assert.False(t, m.Due(now))
}

func mutationFor(p Payload) PendingMutation {
	next := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	return PendingMutation{
		ID:             NewID(),
		RecordID:       "t1",
		Kind:           p.Kind(),
		Payload:        p,
		CreatedAt:      time.Date(2024, 5, 6, 7, 0, 0, 42, time.UTC),
		RetryCount:     2,
		OriginalRecord: &Task{ID: "t1", Title: "old", Project: RelationProperty("p3")},
		LastError:      "timeout",
		NextAttemptAt:  &next,
	}
}

func TestPendingMutationJSON(t *testing.T) {
	for _, p := range samplePayloads() {
		m := mutationFor(p)
		data, err := json.Marshal(m)
		require.NoError(t, err)

		var got PendingMutation
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, m, got, "kind %s", p.Kind())
	}
}

func TestPendingMutationCBOR(t *testing.T) {
	for _, p := range samplePayloads() {
		m := mutationFor(p)
		data, err := cbor.Marshal(m)
		require.NoError(t, err)

		var got PendingMutation
		require.NoError(t, cbor.Unmarshal(data, &got))
		assert.Equal(t, m, got, "kind %s", p.Kind())
	}
}

func TestPendingMutationUnknownKind(t *testing.T) {
	var m PendingMutation
	err := json.Unmarshal([]byte(`{"id":"x","record_id":"t1","kind":"colour","payload":{}}`), &m)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
