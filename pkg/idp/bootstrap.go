package idp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/types"
)

// PermissionGroups is the platform group taxonomy. Token group claims
// from these groups drive API authorization across every service.
var PermissionGroups = []string{"admins", "technicians", "billing", "client"}

// idpPath is the reverse-proxy prefix the IDP is served under when the
// platform fronts it with a real hostname.
const idpPath = "keycloak"

// BootstrapParams carries the desired state for a reconcile run.
type BootstrapParams struct {
	ClientID string
	Hostname string
	// AdminUsername and AdminPassword describe the platform
	// administrator account ensured inside the realm. These are not
	// the IDP's own admin credentials.
	AdminUsername string
	AdminPassword string
	// FreshInstall marks the first boot of a new installation. The
	// default administrator password is permanent only then; an admin
	// account recreated later must be rotated at first login.
	FreshInstall bool
}

// BootstrapResult reports what the reconcile changed. All false/empty
// means the IDP was already converged.
type BootstrapResult struct {
	FrontendURL      string
	ClientSecret     string
	RealmCreated     bool
	ClientCreated    bool
	GroupsCreated    []string
	MapperCreated    bool
	AdminUserCreated bool
}

// Bootstrap reconciles the realm, client, groups, token mapper and
// administrator account with the desired state. Every step is
// find-then-create-or-update, so a converged IDP takes no mutations
// beyond the token request.
func (c *Client) Bootstrap(ctx context.Context, params BootstrapParams) (result *BootstrapResult, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.IDPBootstraps.WithLabelValues(outcome).Inc()
	}()

	if params.ClientID == "" {
		return nil, fmt.Errorf("bootstrap: %w: client id is required", types.ErrInvalidInput)
	}
	if params.AdminUsername == "" || params.AdminPassword == "" {
		return nil, fmt.Errorf("bootstrap: %w: administrator credentials are required", types.ErrInvalidInput)
	}

	result = &BootstrapResult{FrontendURL: c.frontendURL(params.Hostname)}
	log := c.logger.With().Str("realm", c.realm).Str("client_id", params.ClientID).Logger()

	result.RealmCreated, err = c.ensureRealm(ctx, result.FrontendURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ensure realm %s: %w", c.realm, err)
	}

	clientUUID, created, err := c.ensureClient(ctx, params.ClientID, params.Hostname)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ensure client %s: %w", params.ClientID, err)
	}
	result.ClientCreated = created

	result.ClientSecret, err = c.clientSecret(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: fetch client secret: %w", err)
	}

	groupIDs, createdGroups, err := c.ensureGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ensure groups: %w", err)
	}
	result.GroupsCreated = createdGroups

	result.MapperCreated, err = c.ensureGroupMapper(ctx, clientUUID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ensure group mapper: %w", err)
	}

	result.AdminUserCreated, err = c.ensureAdminUser(ctx, params, groupIDs["admins"])
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ensure administrator %s: %w", params.AdminUsername, err)
	}

	log.Info().
		Bool("realm_created", result.RealmCreated).
		Bool("client_created", result.ClientCreated).
		Strs("groups_created", result.GroupsCreated).
		Bool("admin_created", result.AdminUserCreated).
		Str("frontend_url", result.FrontendURL).
		Msg("IDP bootstrap complete")
	return result, nil
}

// UpdateFrontend is the hostname-change path: it rewrites the realm's
// frontendUrl and the client's redirect URIs and touches nothing else.
// The client secret is never rotated here.
func (c *Client) UpdateFrontend(ctx context.Context, clientID, hostname string) error {
	frontend := c.frontendURL(hostname)
	if _, err := c.ensureRealm(ctx, frontend); err != nil {
		return fmt.Errorf("update frontend: realm %s: %w", c.realm, err)
	}
	if _, _, err := c.ensureClient(ctx, clientID, hostname); err != nil {
		return fmt.Errorf("update frontend: client %s: %w", clientID, err)
	}
	c.logger.Info().Str("realm", c.realm).Str("frontend_url", frontend).
		Msg("IDP frontend updated for new hostname")
	return nil
}

// frontendURL is the externally-facing IDP address: the proxied HTTPS
// form for a real hostname, the direct backend for localhost installs.
func (c *Client) frontendURL(hostname string) string {
	if hostname == "" || hostname == "localhost" {
		return c.baseURL
	}
	return fmt.Sprintf("https://%s/%s", hostname, idpPath)
}

func redirectURIs(hostname string) []string {
	uris := []string{"http://localhost:*", "http://127.0.0.1:*"}
	if hostname != "" && hostname != "localhost" {
		uris = append(uris, fmt.Sprintf("https://%s/*", hostname))
	}
	return uris
}

// ensureRealm creates the realm if missing, otherwise updates its
// frontendUrl attribute when it drifted. Updates round-trip the full
// representation so unrelated realm settings survive the PUT.
func (c *Client) ensureRealm(ctx context.Context, frontend string) (bool, error) {
	var rep map[string]any
	err := c.get(ctx, "/admin/realms/"+c.realm, nil, &rep)
	if errors.Is(err, types.ErrNotFound) {
		rep = map[string]any{
			"realm":       c.realm,
			"enabled":     true,
			"displayName": "HiveMatrix",
			"attributes":  map[string]any{"frontendUrl": frontend},
		}
		if _, err := c.post(ctx, "/admin/realms", rep); err != nil {
			return false, err
		}
		c.logger.Info().Str("realm", c.realm).Str("frontend_url", frontend).Msg("Created realm")
		return true, nil
	}
	if err != nil {
		return false, err
	}

	attributes, _ := rep["attributes"].(map[string]any)
	if attributes == nil {
		attributes = map[string]any{}
		rep["attributes"] = attributes
	}
	if current, _ := attributes["frontendUrl"].(string); current == frontend {
		return false, nil
	}
	attributes["frontendUrl"] = frontend
	if err := c.put(ctx, "/admin/realms/"+c.realm, rep); err != nil {
		return false, err
	}
	c.logger.Info().Str("realm", c.realm).Str("frontend_url", frontend).Msg("Updated realm frontend URL")
	return false, nil
}

// ensureClient creates the confidential authorization-code client if
// missing, otherwise reconciles its redirect URIs. Returns the client's
// internal id.
func (c *Client) ensureClient(ctx context.Context, clientID, hostname string) (string, bool, error) {
	desired := redirectURIs(hostname)

	var found []map[string]any
	query := url.Values{"clientId": {clientID}}
	if err := c.get(ctx, c.realmPath("/clients"), query, &found); err != nil {
		return "", false, err
	}

	if len(found) == 0 {
		rep := map[string]any{
			"clientId":                  clientID,
			"name":                      clientID,
			"protocol":                  "openid-connect",
			"publicClient":              false,
			"standardFlowEnabled":       true,
			"directAccessGrantsEnabled": false,
			"serviceAccountsEnabled":    false,
			"redirectUris":              desired,
			"webOrigins":                []string{"+"},
		}
		id, err := c.post(ctx, c.realmPath("/clients"), rep)
		if err != nil {
			return "", false, err
		}
		if id == "" {
			id, err = c.lookupClientID(ctx, clientID)
			if err != nil {
				return "", false, err
			}
		}
		c.logger.Info().Str("client_id", clientID).Msg("Created client")
		return id, true, nil
	}

	rep := found[0]
	id, _ := rep["id"].(string)
	if id == "" {
		return "", false, fmt.Errorf("client %s has no id in representation", clientID)
	}
	if sameStringSet(anySlice(rep["redirectUris"]), desired) {
		return id, false, nil
	}
	rep["redirectUris"] = desired
	rep["webOrigins"] = []string{"+"}
	if err := c.put(ctx, c.realmPath("/clients/"+id), rep); err != nil {
		return "", false, err
	}
	c.logger.Info().Str("client_id", clientID).Strs("redirect_uris", desired).Msg("Updated client redirect URIs")
	return id, false, nil
}

func (c *Client) lookupClientID(ctx context.Context, clientID string) (string, error) {
	var found []map[string]any
	query := url.Values{"clientId": {clientID}}
	if err := c.get(ctx, c.realmPath("/clients"), query, &found); err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("client %s: %w", clientID, types.ErrNotFound)
	}
	id, _ := found[0]["id"].(string)
	return id, nil
}

// clientSecret fetches the client's secret, generating one when the
// IDP has none recorded.
func (c *Client) clientSecret(ctx context.Context, clientUUID string) (string, error) {
	path := c.realmPath("/clients/" + clientUUID + "/client-secret")
	var secret struct {
		Value string `json:"value"`
	}
	err := c.get(ctx, path, nil, &secret)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return "", err
	}
	if secret.Value != "" {
		return secret.Value, nil
	}
	if _, err := c.post(ctx, path, nil); err != nil {
		return "", err
	}
	if err := c.get(ctx, path, nil, &secret); err != nil {
		return "", err
	}
	if secret.Value == "" {
		return "", fmt.Errorf("client secret still empty after regeneration")
	}
	c.logger.Info().Msg("Generated client secret")
	return secret.Value, nil
}

// ensureGroups creates any missing permission groups and returns the
// full name-to-id map.
func (c *Client) ensureGroups(ctx context.Context) (map[string]string, []string, error) {
	var groups []Group
	if err := c.get(ctx, c.realmPath("/groups"), nil, &groups); err != nil {
		return nil, nil, err
	}
	ids := make(map[string]string, len(groups))
	for _, g := range groups {
		ids[g.Name] = g.ID
	}

	var created []string
	for _, name := range PermissionGroups {
		if _, ok := ids[name]; ok {
			continue
		}
		id, err := c.post(ctx, c.realmPath("/groups"), map[string]any{"name": name})
		if err != nil {
			return nil, nil, fmt.Errorf("create group %s: %w", name, err)
		}
		ids[name] = id
		created = append(created, name)
		c.logger.Info().Str("group", name).Msg("Created group")
	}
	sort.Strings(created)

	// A Location-less create leaves holes in the id map; one re-list
	// fills them.
	for _, name := range PermissionGroups {
		if ids[name] != "" {
			continue
		}
		if err := c.get(ctx, c.realmPath("/groups"), nil, &groups); err != nil {
			return nil, nil, err
		}
		for _, g := range groups {
			ids[g.Name] = g.ID
		}
		break
	}
	return ids, created, nil
}

// ensureGroupMapper puts a group-membership protocol mapper on the
// client so tokens carry a groups claim.
func (c *Client) ensureGroupMapper(ctx context.Context, clientUUID string) (bool, error) {
	path := c.realmPath("/clients/" + clientUUID + "/protocol-mappers/models")
	var mappers []map[string]any
	if err := c.get(ctx, path, nil, &mappers); err != nil {
		return false, err
	}
	for _, m := range mappers {
		if kind, _ := m["protocolMapper"].(string); kind == "oidc-group-membership-mapper" {
			return false, nil
		}
	}

	mapper := map[string]any{
		"name":           "groups",
		"protocol":       "openid-connect",
		"protocolMapper": "oidc-group-membership-mapper",
		"config": map[string]string{
			"claim.name":           "groups",
			"full.path":            "false",
			"id.token.claim":       "true",
			"access.token.claim":   "true",
			"userinfo.token.claim": "true",
		},
	}
	if _, err := c.post(ctx, path, mapper); err != nil {
		return false, err
	}
	c.logger.Info().Msg("Created group membership mapper")
	return true, nil
}

// ensureAdminUser creates the platform administrator when absent and
// guarantees membership in the admins group. An existing account is
// left untouched, passwords included.
func (c *Client) ensureAdminUser(ctx context.Context, params BootstrapParams, adminsGroupID string) (bool, error) {
	if adminsGroupID == "" {
		return false, fmt.Errorf("admins group id unknown")
	}

	user, err := c.findUser(ctx, params.AdminUsername)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, err
	}

	created := false
	if user == nil {
		id, err := c.post(ctx, c.realmPath("/users"), map[string]any{
			"username":      params.AdminUsername,
			"enabled":       true,
			"emailVerified": true,
		})
		if err != nil {
			return false, err
		}
		if id == "" {
			found, err := c.findUser(ctx, params.AdminUsername)
			if err != nil {
				return false, err
			}
			id = found.ID
		}
		user = &User{ID: id, Username: params.AdminUsername}
		created = true

		if err := c.ResetPassword(ctx, id, params.AdminPassword, !params.FreshInstall); err != nil {
			return false, err
		}
		c.logger.Info().Str("username", params.AdminUsername).
			Bool("temporary_password", !params.FreshInstall).Msg("Created administrator account")
	}

	memberships, err := c.UserGroups(ctx, user.ID)
	if err != nil {
		return created, err
	}
	for _, g := range memberships {
		if g.Name == "admins" {
			return created, nil
		}
	}
	if err := c.AddUserToGroup(ctx, user.ID, adminsGroupID); err != nil {
		return created, err
	}
	return created, nil
}

// findUser resolves a username to its representation with an exact
// match, or ErrNotFound.
func (c *Client) findUser(ctx context.Context, username string) (*User, error) {
	var found []User
	query := url.Values{"username": {username}, "exact": {"true"}}
	if err := c.get(ctx, c.realmPath("/users"), query, &found); err != nil {
		return nil, err
	}
	for i := range found {
		if found[i].Username == username {
			return &found[i], nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, types.ErrNotFound)
}

func anySlice(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}
