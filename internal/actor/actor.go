// Package actor carries the name/logger pair shared by every component
// in the control stack.
package actor

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Actor is embedded by components that need a stable name and a
// field-scoped logger. It is a value; copying it is fine.
type Actor struct {
	name string
	log  *logrus.Entry
}

// New returns an Actor for the given component kind. An empty name gets a
// short random suffix so concurrent unnamed actors stay distinguishable
// in logs.
func New(component, name string) Actor {
	if name == "" {
		name = component + "-" + uuid.New().String()[:8]
	}
	return Actor{
		name: name,
		log: logrus.WithFields(logrus.Fields{
			"component": component,
			"name":      name,
		}),
	}
}

func (a Actor) Name() string { return a.name }

// Log returns the actor's logger entry.
func (a Actor) Log() *logrus.Entry { return a.log }
