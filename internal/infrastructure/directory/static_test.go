package directory

import (
	"context"
	"testing"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUsers() []User {
	return []User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com", Roles: []string{"engineer"}, Manager: "bob"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com", Roles: []string{"manager"}},
		{ID: "fin1", Name: "Fiona", Roles: []string{"finance"}},
		{ID: "fin2", Name: "Frank", Roles: []string{"finance", "auditor"}},
		{ID: "carol", Name: "Carol"},
	}
}

func TestNewStatic_Validation(t *testing.T) {
	tests := []struct {
		name  string
		users []User
	}{
		{"missing id", []User{{Name: "nobody"}}},
		{"duplicate id", []User{{ID: "a"}, {ID: "a"}}},
		{"unknown manager", []User{{ID: "a", Manager: "ghost"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStatic(tt.users)
			assert.Error(t, err)
		})
	}
}

func TestStatic_Resolve(t *testing.T) {
	d, err := NewStatic(testUsers())
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		sel       approval.ApproverSelector
		requester string
		want      []string
		wantErr   error
	}{
		{"users", approval.ApproverSelector{Type: approval.ApproverUser, Users: []string{"bob", "carol"}}, "alice", []string{"bob", "carol"}, nil},
		{"unknown user", approval.ApproverSelector{Type: approval.ApproverUser, Users: []string{"ghost"}}, "alice", nil, ErrUnknownUser},
		{"role in input order", approval.ApproverSelector{Type: approval.ApproverRole, Role: "finance"}, "alice", []string{"fin1", "fin2"}, nil},
		{"empty role", approval.ApproverSelector{Type: approval.ApproverRole, Role: "legal"}, "alice", []string{}, nil},
		{"requester manager", approval.ApproverSelector{Type: approval.ApproverRequesterManager}, "alice", []string{"bob"}, nil},
		{"requester without manager", approval.ApproverSelector{Type: approval.ApproverRequesterManager}, "carol", nil, nil},
		{"unsupported type", approval.ApproverSelector{Type: "group"}, "alice", nil, ErrUnsupportedSelector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actors, err := d.Resolve(ctx, tt.sel, approval.ResolveContext{Requester: approval.Actor{ID: tt.requester}})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, actors)
				return
			}
			ids := make([]string, len(actors))
			for i, a := range actors {
				ids[i] = a.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStatic_RoleActorsCarryRole(t *testing.T) {
	d, err := NewStatic(testUsers())
	require.NoError(t, err)

	actors, err := d.Resolve(context.Background(), approval.ApproverSelector{Type: approval.ApproverRole, Role: "auditor"}, approval.ResolveContext{})
	require.NoError(t, err)
	require.Len(t, actors, 1)
	assert.Equal(t, approval.Actor{ID: "fin2", Name: "Frank", Role: "auditor"}, actors[0])
}

func TestStatic_Actor(t *testing.T) {
	d, err := NewStatic(testUsers())
	require.NoError(t, err)

	a, ok := d.Actor("alice")
	assert.True(t, ok)
	assert.Equal(t, approval.Actor{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: "engineer"}, a)

	a, ok = d.Actor("ghost")
	assert.False(t, ok)
	assert.Equal(t, approval.Actor{ID: "ghost"}, a)
}
