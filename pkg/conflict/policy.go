package conflict

import "github.com/surrealdb/surrealtodo/pkg/models"

// AutoPolicy settles some conflicts without asking the user.
type AutoPolicy interface {
	AutoResolve(m models.PendingMutation, server *models.Task) bool
}

// SameValuePolicy settles conflicts where the server already holds the
// value the local edit wanted to write.
type SameValuePolicy struct{}

func (SameValuePolicy) AutoResolve(m models.PendingMutation, server *models.Task) bool {
	return server != nil && m.Payload != nil && m.Payload.Matches(server)
}

// NeverPolicy leaves every conflict to the user.
type NeverPolicy struct{}

func (NeverPolicy) AutoResolve(models.PendingMutation, *models.Task) bool { return false }
