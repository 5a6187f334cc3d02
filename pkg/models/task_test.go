package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThing(t *testing.T) {
	id, err := ParseThing("task:abc")
	require.NoError(t, err)
	assert.Equal(t, TaskID("abc"), id)

	id, err = ParseThing(" abc ")
	require.NoError(t, err)
	assert.Equal(t, TaskID("abc"), id)

	_, err = ParseThing("task:")
	assert.Error(t, err)

	_, err = ParseThing("")
	assert.Error(t, err)

	assert.Equal(t, "task:abc", TaskID("abc").Thing("task"))
}

func TestTaskClone(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	orig := &Task{
		ID:       "t1",
		Title:    "write report",
		DueDate:  &due,
		TaskType: SelectProperty(SelectOption{ID: "o1", Name: "Chore"}),
		Project:  RelationProperty("p1", "p2"),
	}

	c := orig.Clone()
	*c.DueDate = due.Add(time.Hour)
	c.TaskType.Option.Name = "Errand"
	c.Project.Relation[0] = "p9"

	assert.True(t, orig.DueDate.Equal(due))
	assert.Equal(t, "Chore", orig.TaskType.Option.Name)
	assert.Equal(t, []string{"p1", "p2"}, orig.Project.Relation)

	var nilTask *Task
	assert.Nil(t, nilTask.Clone())
}

func TestPropertyEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Property
		want bool
	}{
		{"both empty", Property{}, Property{}, true},
		{"empty vs empty select", Property{}, Property{Kind: PropertySelect}, true},
		{"empty vs value", Property{}, SelectProperty(SelectOption{Name: "A"}), false},
		{"same option id", SelectProperty(SelectOption{ID: "1", Name: "A"}), SelectProperty(SelectOption{ID: "1", Name: "Renamed"}), true},
		{"different option id", SelectProperty(SelectOption{ID: "1"}), SelectProperty(SelectOption{ID: "2"}), false},
		{"name fallback", SelectProperty(SelectOption{Name: "A"}), SelectProperty(SelectOption{Name: "A"}), true},
		{"relation order ignored", RelationProperty("a", "b"), RelationProperty("b", "a"), true},
		{"relation duplicates ignored", RelationProperty("a", "a", "b"), RelationProperty("b", "a"), true},
		{"relation differs", RelationProperty("a"), RelationProperty("a", "c"), false},
		{"kind differs", SelectProperty(SelectOption{ID: "a"}), RelationProperty("a"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Equal(tc.b))
			assert.Equal(t, tc.want, tc.b.Equal(tc.a))
		})
	}
}

func TestPropertyValidate(t *testing.T) {
	assert.NoError(t, Property{}.Validate())
	assert.NoError(t, SelectProperty(SelectOption{Name: "A"}).Validate())
	assert.NoError(t, RelationProperty("p1").Validate())

	assert.Error(t, Property{Relation: []string{"x"}}.Validate())
	assert.Error(t, SelectProperty(SelectOption{}).Validate())
	assert.Error(t, RelationProperty("p1", " ").Validate())
	assert.Error(t, Property{Kind: "multi"}.Validate())
}
