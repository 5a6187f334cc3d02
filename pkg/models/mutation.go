package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Kind is the closed set of field edits that can be queued.
type Kind string

const (
	KindStatus        Kind = "status"
	KindCheckbox      Kind = "checkbox"
	KindTitle         Kind = "title"
	KindDoDate        Kind = "do_date"
	KindDueDate       Kind = "due_date"
	KindCompletedDate Kind = "completed_date"
	KindTaskType      Kind = "task_type"
	KindProject       Kind = "project"
	KindURL           Kind = "url"
)

// Kinds lists every mutation kind in a stable order.
var Kinds = []Kind{
	KindStatus,
	KindCheckbox,
	KindTitle,
	KindDoDate,
	KindDueDate,
	KindCompletedDate,
	KindTaskType,
	KindProject,
	KindURL,
}

func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ErrInvalidPayload is returned when a payload does not fit its kind.
var ErrInvalidPayload = errors.New("invalid mutation payload")

// Payload is the kind-specific data of a mutation.
//
// The interface is sealed; the concrete types below are the only variants.
type Payload interface {
	// Kind is the mutation kind this payload belongs to.
	Kind() Kind
	// Validate checks the payload shape.
	Validate() error
	// Apply writes the intended value into t.
	Apply(t *Task)
	// Matches reports whether t already holds the intended value.
	Matches(t *Task) bool

	sealed()
}

type StatusPayload struct {
	Status string `json:"status"`
}

type CheckboxPayload struct {
	Done bool `json:"done"`
}

type TitlePayload struct {
	Title string `json:"title"`
}

// DoDatePayload sets or clears (nil) the do date.
type DoDatePayload struct {
	Date *time.Time `json:"date"`
}

type DueDatePayload struct {
	Date *time.Time `json:"date"`
}

type CompletedDatePayload struct {
	Date *time.Time `json:"date"`
}

// TaskTypePayload targets either a select option or a relation.
type TaskTypePayload struct {
	Value Property `json:"value"`
}

type ProjectPayload struct {
	Value Property `json:"value"`
}

type URLPayload struct {
	URL string `json:"url"`
}

func (StatusPayload) Kind() Kind        { return KindStatus }
func (CheckboxPayload) Kind() Kind      { return KindCheckbox }
func (TitlePayload) Kind() Kind         { return KindTitle }
func (DoDatePayload) Kind() Kind        { return KindDoDate }
func (DueDatePayload) Kind() Kind       { return KindDueDate }
func (CompletedDatePayload) Kind() Kind { return KindCompletedDate }
func (TaskTypePayload) Kind() Kind      { return KindTaskType }
func (ProjectPayload) Kind() Kind       { return KindProject }
func (URLPayload) Kind() Kind           { return KindURL }

func (StatusPayload) sealed()        {}
func (CheckboxPayload) sealed()      {}
func (TitlePayload) sealed()         {}
func (DoDatePayload) sealed()        {}
func (DueDatePayload) sealed()       {}
func (CompletedDatePayload) sealed() {}
func (TaskTypePayload) sealed()      {}
func (ProjectPayload) sealed()       {}
func (URLPayload) sealed()           {}

func (p StatusPayload) Validate() error {
	if strings.TrimSpace(p.Status) == "" {
		return fmt.Errorf("%w: status must not be empty", ErrInvalidPayload)
	}
	return nil
}

func (CheckboxPayload) Validate() error { return nil }

func (p TitlePayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidPayload)
	}
	return nil
}

func (DoDatePayload) Validate() error        { return nil }
func (DueDatePayload) Validate() error       { return nil }
func (CompletedDatePayload) Validate() error { return nil }

func (p TaskTypePayload) Validate() error {
	if err := p.Value.Validate(); err != nil {
		return fmt.Errorf("%w: task type: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (p ProjectPayload) Validate() error {
	if err := p.Value.Validate(); err != nil {
		return fmt.Errorf("%w: project: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (p URLPayload) Validate() error {
	if p.URL == "" {
		return nil
	}
	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: url %q is not absolute", ErrInvalidPayload, p.URL)
	}
	return nil
}

func (p StatusPayload) Apply(t *Task)        { t.Status = p.Status }
func (p CheckboxPayload) Apply(t *Task)      { t.Done = p.Done }
func (p TitlePayload) Apply(t *Task)         { t.Title = p.Title }
func (p DoDatePayload) Apply(t *Task)        { t.DoDate = cloneTime(p.Date) }
func (p DueDatePayload) Apply(t *Task)       { t.DueDate = cloneTime(p.Date) }
func (p CompletedDatePayload) Apply(t *Task) { t.CompletedDate = cloneTime(p.Date) }
func (p TaskTypePayload) Apply(t *Task)      { t.TaskType = p.Value.Clone() }
func (p ProjectPayload) Apply(t *Task)       { t.Project = p.Value.Clone() }
func (p URLPayload) Apply(t *Task)           { t.URL = p.URL }

func (p StatusPayload) Matches(t *Task) bool        { return t.Status == p.Status }
func (p CheckboxPayload) Matches(t *Task) bool      { return t.Done == p.Done }
func (p TitlePayload) Matches(t *Task) bool         { return t.Title == p.Title }
func (p DoDatePayload) Matches(t *Task) bool        { return SameTime(t.DoDate, p.Date) }
func (p DueDatePayload) Matches(t *Task) bool       { return SameTime(t.DueDate, p.Date) }
func (p CompletedDatePayload) Matches(t *Task) bool { return SameTime(t.CompletedDate, p.Date) }
func (p TaskTypePayload) Matches(t *Task) bool      { return t.TaskType.Equal(p.Value) }
func (p ProjectPayload) Matches(t *Task) bool       { return t.Project.Equal(p.Value) }
func (p URLPayload) Matches(t *Task) bool           { return t.URL == p.URL }

// FieldEqual reports whether a and b hold the same value for the field that
// mutations of kind k touch. Unrelated fields are ignored.
func FieldEqual(k Kind, a, b *Task) bool {
	switch k {
	case KindStatus:
		return a.Status == b.Status
	case KindCheckbox:
		return a.Done == b.Done
	case KindTitle:
		return a.Title == b.Title
	case KindDoDate:
		return SameTime(a.DoDate, b.DoDate)
	case KindDueDate:
		return SameTime(a.DueDate, b.DueDate)
	case KindCompletedDate:
		return SameTime(a.CompletedDate, b.CompletedDate)
	case KindTaskType:
		return a.TaskType.Equal(b.TaskType)
	case KindProject:
		return a.Project.Equal(b.Project)
	case KindURL:
		return a.URL == b.URL
	}
	panic(fmt.Sprintf("models: unhandled mutation kind %q", k))
}

// ValidatePayload checks that p is a well formed payload for kind k.
func ValidatePayload(k Kind, p Payload) error {
	if !k.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, k)
	}
	if p == nil {
		return fmt.Errorf("%w: missing payload for kind %q", ErrInvalidPayload, k)
	}
	if p.Kind() != k {
		return fmt.Errorf("%w: payload for %q used with kind %q", ErrInvalidPayload, p.Kind(), k)
	}
	return p.Validate()
}

// NewID returns a time-ordered unique id for mutations and conflicts.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// PendingMutation is a field-level edit that is not yet confirmed by the server.
type PendingMutation struct {
	ID         string
	RecordID   TaskID
	Kind       Kind
	Payload    Payload
	CreatedAt  time.Time
	RetryCount int

	// OriginalRecord is the local snapshot of the task the edit was made against.
	OriginalRecord *Task

	// LastError is the message of the most recent failed apply attempt.
	LastError string
	// NextAttemptAt holds back retries until the backoff delay has passed.
	NextAttemptAt *time.Time
	// NeedsAttention is set once the retry budget is exhausted.
	NeedsAttention bool
}

// Clone returns a deep copy of the mutation.
func (m PendingMutation) Clone() PendingMutation {
	c := m
	c.OriginalRecord = m.OriginalRecord.Clone()
	c.NextAttemptAt = cloneTime(m.NextAttemptAt)
	return c
}

// Due reports whether the mutation may be attempted at now.
func (m PendingMutation) Due(now time.Time) bool {
	if m.NeedsAttention {
		return false
	}
	return m.NextAttemptAt == nil || !now.Before(*m.NextAttemptAt)
}
