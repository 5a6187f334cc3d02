package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealtodo"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/netstate"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

type editOutput struct {
	Mutation string `json:"mutation"`
	Pending  int    `json:"pending"`
	Synced   bool   `json:"synced"`
}

func newEditCommand(o *options) *cobra.Command {
	var syncAfter bool
	cmd := &cobra.Command{
		Use:   "edit <task-id> <kind> [value]",
		Short: "Queue an edit to one field of a task",
		Long: `Queue an edit to one field of a task. Kinds and values:

  status <name>                 checkbox <true|false>
  title <text>                  url <link|none>
  do_date, due_date, completed_date <YYYY-MM-DD|RFC3339|none>
  task_type, project <select:NAME|relation:ID,ID|none>`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseThing(args[0])
			if err != nil {
				return err
			}
			value := ""
			if len(args) == 3 {
				value = args[2]
			}
			payload, err := ParsePayload(models.Kind(args[1]), value)
			if err != nil {
				return err
			}

			return o.run(cmd, func(ctx context.Context, a *app) error {
				mutationID, err := a.client.Enqueue(ctx, id, payload)
				if errors.Is(err, surrealtodo.ErrUnknownTask) && a.client.Probe(ctx) == netstate.StateOnline {
					if _, rerr := a.client.Refresh(ctx); rerr != nil {
						return rerr
					}
					mutationID, err = a.client.Enqueue(ctx, id, payload)
				}
				if err != nil {
					return err
				}

				out := editOutput{Mutation: mutationID}
				if syncAfter && a.client.Probe(ctx) == netstate.StateOnline {
					if _, err := a.client.SyncNow(ctx); err != nil {
						a.log.Warn("sync after edit failed", "error", err)
					} else {
						out.Synced = true
					}
				}
				out.Pending = a.client.PendingCount()
				return o.print(cmd, out)
			})
		},
	}
	cmd.Flags().BoolVar(&syncAfter, "sync", false, "sync right away when online")
	return cmd
}

// ParsePayload builds the payload of kind k from its command line form.
func ParsePayload(k models.Kind, value string) (models.Payload, error) {
	switch k {
	case models.KindStatus:
		return models.StatusPayload{Status: value}, nil
	case models.KindCheckbox:
		done, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("checkbox value must be true or false: %w", err)
		}
		return models.CheckboxPayload{Done: done}, nil
	case models.KindTitle:
		return models.TitlePayload{Title: value}, nil
	case models.KindDoDate, models.KindDueDate, models.KindCompletedDate:
		date, err := parseDate(value)
		if err != nil {
			return nil, err
		}
		switch k {
		case models.KindDoDate:
			return models.DoDatePayload{Date: date}, nil
		case models.KindDueDate:
			return models.DueDatePayload{Date: date}, nil
		default:
			return models.CompletedDatePayload{Date: date}, nil
		}
	case models.KindTaskType, models.KindProject:
		prop, err := parseProperty(value)
		if err != nil {
			return nil, err
		}
		if k == models.KindTaskType {
			return models.TaskTypePayload{Value: prop}, nil
		}
		return models.ProjectPayload{Value: prop}, nil
	case models.KindURL:
		if value == "none" {
			value = ""
		}
		return models.URLPayload{URL: value}, nil
	}
	return nil, fmt.Errorf("unknown edit kind %q", k)
}

func parseDate(value string) (*time.Time, error) {
	if value == "" || value == "none" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (use YYYY-MM-DD or RFC3339)", value)
}

func parseProperty(value string) (models.Property, error) {
	if value == "" || value == "none" {
		return models.Property{}, nil
	}
	kind, rest, ok := strings.Cut(value, ":")
	if !ok || rest == "" {
		return models.Property{}, fmt.Errorf("invalid property %q (use select:NAME or relation:ID,ID)", value)
	}
	switch models.PropertyKind(kind) {
	case models.PropertySelect:
		return models.SelectProperty(models.SelectOption{Name: rest}), nil
	case models.PropertyRelation:
		return models.RelationProperty(strings.Split(rest, ",")...), nil
	}
	return models.Property{}, fmt.Errorf("unknown property kind %q", kind)
}
