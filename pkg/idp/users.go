package idp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hivematrix/helm/pkg/types"
)

// User is the subset of the IDP's user representation the platform
// manages.
type User struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified"`
}

// Group is an IDP group reference.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListUsers returns every user in the realm.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.get(ctx, c.realmPath("/users"), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser fetches one user by id.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.get(ctx, c.realmPath("/users/"+id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser adds a user and returns its new id. Username and email
// are required.
func (c *Client) CreateUser(ctx context.Context, user User) (string, error) {
	if user.Username == "" || user.Email == "" {
		return "", fmt.Errorf("create user: %w: username and email are required", types.ErrInvalidInput)
	}
	payload := map[string]any{
		"username":      user.Username,
		"email":         user.Email,
		"firstName":     user.FirstName,
		"lastName":      user.LastName,
		"enabled":       user.Enabled,
		"emailVerified": user.EmailVerified,
	}
	id, err := c.post(ctx, c.realmPath("/users"), payload)
	if err != nil {
		return "", err
	}
	if id == "" {
		created, err := c.findUser(ctx, user.Username)
		if err != nil {
			return "", err
		}
		id = created.ID
	}
	c.logger.Info().Str("username", user.Username).Msg("Created user")
	return id, nil
}

// UpdateUser applies a partial representation to a user. The fields map
// passes through to the admin API unchanged.
func (c *Client) UpdateUser(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("update user: %w: no fields given", types.ErrInvalidInput)
	}
	return c.put(ctx, c.realmPath("/users/"+id), fields)
}

// DeleteUser removes a user. The platform's own administrator account
// is protected and cannot be deleted through this path.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	user, err := c.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if strings.EqualFold(user.Username, c.protectedUser) {
		return fmt.Errorf("cannot delete the %s account: %w", c.protectedUser, types.ErrForbidden)
	}
	if err := c.delete(ctx, c.realmPath("/users/"+id)); err != nil {
		return err
	}
	c.logger.Info().Str("username", user.Username).Msg("Deleted user")
	return nil
}

// ResetPassword sets a user's password. Temporary passwords force a
// change at next login.
func (c *Client) ResetPassword(ctx context.Context, id, password string, temporary bool) error {
	if password == "" {
		return fmt.Errorf("reset password: %w: password is required", types.ErrInvalidInput)
	}
	payload := map[string]any{
		"type":      "password",
		"value":     password,
		"temporary": temporary,
	}
	return c.put(ctx, c.realmPath("/users/"+id+"/reset-password"), payload)
}

// ListGroups returns the realm's groups.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.get(ctx, c.realmPath("/groups"), nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// UserGroups returns the groups a user belongs to.
func (c *Client) UserGroups(ctx context.Context, id string) ([]Group, error) {
	var groups []Group
	if err := c.get(ctx, c.realmPath("/users/"+id+"/groups"), nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// AddUserToGroup joins a user to a group by ids.
func (c *Client) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	return c.put(ctx, c.realmPath("/users/"+userID+"/groups/"+groupID), nil)
}

// RemoveUserFromGroup removes a group membership.
func (c *Client) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	return c.delete(ctx, c.realmPath("/users/"+userID+"/groups/"+groupID))
}

// SetUserGroups replaces a user's memberships with the desired set.
// Partial failures are joined so the caller sees every group that could
// not be changed; added and removed report what did succeed.
func (c *Client) SetUserGroups(ctx context.Context, userID string, desired []string) (added, removed []string, err error) {
	current, err := c.UserGroups(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	available, err := c.ListGroups(ctx)
	if err != nil {
		return nil, nil, err
	}

	currentIDs := make(map[string]string, len(current))
	for _, g := range current {
		currentIDs[g.Name] = g.ID
	}
	availableIDs := make(map[string]string, len(available))
	for _, g := range available {
		availableIDs[g.Name] = g.ID
	}
	want := make(map[string]bool, len(desired))
	for _, name := range desired {
		want[name] = true
	}

	var failures []error
	for name, id := range currentIDs {
		if want[name] {
			continue
		}
		if rmErr := c.RemoveUserFromGroup(ctx, userID, id); rmErr != nil {
			failures = append(failures, fmt.Errorf("remove from %s: %w", name, rmErr))
			continue
		}
		removed = append(removed, name)
	}
	for name := range want {
		if _, member := currentIDs[name]; member {
			continue
		}
		id, exists := availableIDs[name]
		if !exists {
			failures = append(failures, fmt.Errorf("group %s: %w", name, types.ErrNotFound))
			continue
		}
		if addErr := c.AddUserToGroup(ctx, userID, id); addErr != nil {
			failures = append(failures, fmt.Errorf("add to %s: %w", name, addErr))
			continue
		}
		added = append(added, name)
	}
	return added, removed, errors.Join(failures...)
}
