package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

var (
	// ErrUnknownUser is returned when a policy names a user missing from the directory
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnsupportedSelector is returned for approver types the directory cannot resolve
	ErrUnsupportedSelector = errors.New("unsupported approver selector")
)

// User is one directory entry
type User struct {
	ID      string   `mapstructure:"id" yaml:"id"`
	Name    string   `mapstructure:"name" yaml:"name"`
	Email   string   `mapstructure:"email" yaml:"email"`
	Roles   []string `mapstructure:"roles" yaml:"roles"`
	Manager string   `mapstructure:"manager" yaml:"manager"`
}

// Static resolves approvers from a fixed list of users. It is read-only after
// construction and safe for concurrent use.
type Static struct {
	users map[string]User
	roles map[string][]string
}

// NewStatic indexes the users by id and role. Role members keep the order of
// the input list.
func NewStatic(users []User) (*Static, error) {
	d := &Static{
		users: make(map[string]User, len(users)),
		roles: make(map[string][]string),
	}
	for _, u := range users {
		if u.ID == "" {
			return nil, fmt.Errorf("directory user without id")
		}
		if _, dup := d.users[u.ID]; dup {
			return nil, fmt.Errorf("duplicate directory user %s", u.ID)
		}
		d.users[u.ID] = u
		for _, r := range u.Roles {
			d.roles[r] = append(d.roles[r], u.ID)
		}
	}
	for _, u := range users {
		if u.Manager != "" {
			if _, ok := d.users[u.Manager]; !ok {
				return nil, fmt.Errorf("%w: manager %s of %s", ErrUnknownUser, u.Manager, u.ID)
			}
		}
	}
	return d, nil
}

// Actor returns the directory view of a user
func (d *Static) Actor(id string) (approval.Actor, bool) {
	u, ok := d.users[id]
	if !ok {
		return approval.Actor{ID: id}, false
	}
	return toActor(u), true
}

// Resolve implements approval.ApproverResolver. An empty role or a requester
// without a manager yields no approvers, which the engine rejects.
func (d *Static) Resolve(ctx context.Context, sel approval.ApproverSelector, rc approval.ResolveContext) ([]approval.Actor, error) {
	switch sel.Type {
	case approval.ApproverUser:
		actors := make([]approval.Actor, 0, len(sel.Users))
		for _, id := range sel.Users {
			u, ok := d.users[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownUser, id)
			}
			actors = append(actors, toActor(u))
		}
		return actors, nil

	case approval.ApproverRole:
		members := d.roles[sel.Role]
		actors := make([]approval.Actor, 0, len(members))
		for _, id := range members {
			a := toActor(d.users[id])
			a.Role = sel.Role
			actors = append(actors, a)
		}
		return actors, nil

	case approval.ApproverRequesterManager:
		requester, ok := d.users[rc.Requester.ID]
		if !ok || requester.Manager == "" {
			return nil, nil
		}
		return []approval.Actor{toActor(d.users[requester.Manager])}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSelector, sel.Type)
}

func toActor(u User) approval.Actor {
	a := approval.Actor{ID: u.ID, Name: u.Name, Email: u.Email}
	if len(u.Roles) > 0 {
		a.Role = u.Roles[0]
	}
	return a
}
