package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealtodo/pkg/models"
)

const deletedChange = "task was deleted on the server"

// Labels shown in front of rendered values.
var labels = map[models.Kind]string{
	models.KindStatus:        "Status",
	models.KindCheckbox:      "Done",
	models.KindTitle:         "Title",
	models.KindDoDate:        "Do date",
	models.KindDueDate:       "Due date",
	models.KindCompletedDate: "Completed",
	models.KindTaskType:      "Type",
	models.KindProject:       "Project",
	models.KindURL:           "Link",
}

// Describe renders what the local edit and the server did to the touched
// field, each as "Label: before → after".
func Describe(m models.PendingMutation, server *models.Task) (local, remote string) {
	label := labels[m.Kind]
	before := "unknown"
	if m.OriginalRecord != nil {
		before = RenderField(m.Kind, m.OriginalRecord)
	}

	var intended models.Task
	if m.OriginalRecord != nil {
		intended = *m.OriginalRecord.Clone()
	}
	m.Payload.Apply(&intended)
	local = fmt.Sprintf("%s: %s → %s", label, before, RenderField(m.Kind, &intended))

	if server == nil {
		return local, deletedChange
	}
	return local, fmt.Sprintf("%s: %s → %s", label, before, RenderField(m.Kind, server))
}

// RenderField formats the field of t that mutations of kind k touch.
func RenderField(k models.Kind, t *models.Task) string {
	switch k {
	case models.KindStatus:
		if t.Status == "" {
			return "no status"
		}
		return t.Status
	case models.KindCheckbox:
		if t.Done {
			return "checked"
		}
		return "unchecked"
	case models.KindTitle:
		return fmt.Sprintf("%q", t.Title)
	case models.KindDoDate:
		return renderDate(t.DoDate)
	case models.KindDueDate:
		return renderDate(t.DueDate)
	case models.KindCompletedDate:
		return renderDate(t.CompletedDate)
	case models.KindTaskType:
		return renderProperty(t.TaskType)
	case models.KindProject:
		return renderProperty(t.Project)
	case models.KindURL:
		if t.URL == "" {
			return "no link"
		}
		return t.URL
	}
	panic(fmt.Sprintf("conflict: unhandled mutation kind %q", k))
}

func renderDate(d *time.Time) string {
	if d == nil {
		return "no date"
	}
	u := d.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 {
		return u.Format("Jan 2, 2006")
	}
	return u.Format("Jan 2, 2006 15:04")
}

func renderProperty(p models.Property) string {
	if p.IsEmpty() {
		return "none"
	}
	if p.Kind == models.PropertySelect {
		if p.Option.Name != "" {
			return p.Option.Name
		}
		return p.Option.ID
	}
	return "related to " + strings.Join(p.Relation, ", ")
}
