package framework

import (
	"testing"

	"github.com/hivematrix/helm/pkg/client"
	"github.com/hivematrix/helm/pkg/types"
)

// Assertions wraps the checks end-to-end tests repeat against a live
// control API.
type Assertions struct {
	t *testing.T
}

// NewAssertions creates assertion helpers bound to the test.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// ServiceState fails the test unless the service reports the given
// process state.
func (a *Assertions) ServiceState(c *client.Client, name string, want types.ProcessState) {
	a.t.Helper()
	status, err := c.Status(name)
	if err != nil {
		a.t.Fatalf("status of %s: %v", name, err)
	}
	if status.Status != want {
		a.t.Fatalf("service %s is %s, want %s", name, status.Status, want)
	}
}

// CatalogContains fails the test unless every name is in the catalog.
func (a *Assertions) CatalogContains(c *client.Client, names ...string) {
	a.t.Helper()
	list, err := c.ListServices()
	if err != nil {
		a.t.Fatalf("listing services: %v", err)
	}
	for _, name := range names {
		if _, ok := list.Details[name]; !ok {
			a.t.Fatalf("catalog is missing %s (have %v)", name, list.Services)
		}
	}
}

// HealthyComponent fails the test unless the orchestrator's own health
// document reports the component healthy.
func (a *Assertions) HealthyComponent(c *client.Client, component string) {
	a.t.Helper()
	doc, err := c.Health()
	if err != nil {
		a.t.Fatalf("fetching health: %v", err)
	}
	check, ok := doc.Checks[component]
	if !ok {
		a.t.Fatalf("health document has no %s component (have %v)", component, doc.Checks)
	}
	if check.Status != "healthy" {
		a.t.Fatalf("component %s is %s: %s", component, check.Status, check.Message)
	}
}
