package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// TaskID identifies a task row in the remote database.
type TaskID string

// NewTaskID returns a time-ordered random task id.
func NewTaskID() TaskID {
	return TaskID(uuid.Must(uuid.NewV7()).String())
}

// ParseThing accepts either a bare id or a "table:id" record string.
func ParseThing(s string) (TaskID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty task id")
	}
	if _, id, ok := strings.Cut(s, ":"); ok {
		if id == "" {
			return "", fmt.Errorf("invalid record id %q: expected format is 'table:id'", s)
		}
		return TaskID(id), nil
	}
	return TaskID(s), nil
}

func (id TaskID) String() string { return string(id) }

func (id TaskID) IsZero() bool { return id == "" }

// Thing renders the record id as "table:id".
func (id TaskID) Thing(table string) string {
	return table + ":" + string(id)
}

// Task is the local representation of one row of the remote document database.
type Task struct {
	ID            TaskID     `json:"id"`
	Title         string     `json:"title"`
	Status        string     `json:"status,omitempty"`
	Done          bool       `json:"done"`
	DoDate        *time.Time `json:"do_date,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	TaskType      Property   `json:"task_type"`
	Project       Property   `json:"project"`
	URL           string     `json:"url,omitempty"`

	// UpdatedAt is the server's last modification time of the row.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DoDate = cloneTime(t.DoDate)
	c.DueDate = cloneTime(t.DueDate)
	c.CompletedDate = cloneTime(t.CompletedDate)
	c.TaskType = t.TaskType.Clone()
	c.Project = t.Project.Clone()
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SameTime reports whether two optional timestamps denote the same instant.
func SameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// PropertyKind tells whether a Property holds a select option or a relation.
type PropertyKind string

const (
	PropertyEmpty    PropertyKind = ""
	PropertySelect   PropertyKind = "select"
	PropertyRelation PropertyKind = "relation"
)

// SelectOption is one option of a single-select column.
type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Property is a column that is either a single-select value or a relation to
// other pages identified by page ids.
type Property struct {
	Kind     PropertyKind  `json:"kind,omitempty"`
	Option   *SelectOption `json:"option,omitempty"`
	Relation []string      `json:"relation,omitempty"`
}

// SelectProperty builds a single-select property.
func SelectProperty(opt SelectOption) Property {
	return Property{Kind: PropertySelect, Option: &opt}
}

// RelationProperty builds a relation property over the given page ids.
func RelationProperty(pageIDs ...string) Property {
	return Property{Kind: PropertyRelation, Relation: slices.Clone(pageIDs)}
}

func (p Property) Clone() Property {
	c := p
	if p.Option != nil {
		opt := *p.Option
		c.Option = &opt
	}
	c.Relation = slices.Clone(p.Relation)
	return c
}

// IsEmpty reports whether the property holds no value.
func (p Property) IsEmpty() bool {
	switch p.Kind {
	case PropertySelect:
		return p.Option == nil
	case PropertyRelation:
		return len(p.Relation) == 0
	default:
		return true
	}
}

// Equal compares select options by id (name when ids are absent) and
// relations as sets of page ids.
func (p Property) Equal(o Property) bool {
	if p.IsEmpty() || o.IsEmpty() {
		return p.IsEmpty() && o.IsEmpty()
	}
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case PropertySelect:
		if p.Option.ID != "" || o.Option.ID != "" {
			return p.Option.ID == o.Option.ID
		}
		return p.Option.Name == o.Option.Name
	case PropertyRelation:
		a := slices.Clone(p.Relation)
		b := slices.Clone(o.Relation)
		slices.Sort(a)
		slices.Sort(b)
		return slices.Equal(slices.Compact(a), slices.Compact(b))
	}
	return false
}

func (p Property) Validate() error {
	switch p.Kind {
	case PropertyEmpty:
		if p.Option != nil || len(p.Relation) > 0 {
			return fmt.Errorf("property without kind must be empty")
		}
	case PropertySelect:
		if len(p.Relation) > 0 {
			return fmt.Errorf("select property must not carry a relation")
		}
		if p.Option != nil && p.Option.ID == "" && p.Option.Name == "" {
			return fmt.Errorf("select option needs an id or a name")
		}
	case PropertyRelation:
		if p.Option != nil {
			return fmt.Errorf("relation property must not carry a select option")
		}
		for _, id := range p.Relation {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("relation contains an empty page id")
			}
		}
	default:
		return fmt.Errorf("unknown property kind %q", p.Kind)
	}
	return nil
}
