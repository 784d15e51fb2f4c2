package framework

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/client"
	"github.com/hivematrix/helm/pkg/orchestrator"
	"github.com/hivematrix/helm/pkg/paths"
)

// SleeperScript stands in for a healthy long-lived service. exec
// replaces the shell so the recorded PID is the process that runs.
const SleeperScript = "#!/bin/sh\nexec sleep 300\n"

// DyingScript mimics a service that fails on boot after writing a clue
// to stderr.
const DyingScript = "#!/bin/sh\necho boom >&2\nexit 7\n"

// cleanupTimeout bounds the orchestrator shutdown during Cleanup,
// including stopping any services the test left running.
const cleanupTimeout = 30 * time.Second

// PlatformConfig controls the scaffolded installation.
type PlatformConfig struct {
	// Services maps extra sibling checkout names to the shell script
	// their fake interpreter runs. The required core checkouts are
	// always scaffolded with SleeperScript; listing one here replaces
	// its script.
	Services map[string]string

	// ProbeInterval tightens the monitor sweep so state transitions
	// show up quickly. Defaults to 500ms.
	ProbeInterval time.Duration
}

// Platform is one booted orchestrator over a throwaway installation:
// a platform root with fake sibling checkouts, an identity stub for
// token verification, and an authenticated API client.
type Platform struct {
	// Root is the orchestrator checkout directory inside the scaffold.
	Root string

	// BaseURL is the control API address.
	BaseURL string

	// Identity verifies the tokens Client sends.
	Identity *IdentityStub

	// Client talks to the control API with an admin token.
	Client *client.Client

	parent  string
	runtime *orchestrator.Runtime
	orch    *orchestrator.Orchestrator
}

// NewPlatform scaffolds the installation but does not boot it. The
// master config is seeded with the identity provider disabled so boot
// never reaches for a real one; the stub only stands in for token
// verification.
func NewPlatform(config *PlatformConfig) (*Platform, error) {
	if config == nil {
		config = &PlatformConfig{}
	}

	parent, err := os.MkdirTemp("", "helm-e2e-*")
	if err != nil {
		return nil, fmt.Errorf("creating scaffold dir: %w", err)
	}
	root := filepath.Join(parent, paths.ServiceDirPrefix+paths.OrchestratorName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating platform root: %w", err)
	}

	services := map[string]string{
		"core":  SleeperScript,
		"nexus": SleeperScript,
	}
	for name, script := range config.Services {
		services[name] = script
	}
	for name, script := range services {
		if err := writeServiceCheckout(parent, name, script); err != nil {
			return nil, fmt.Errorf("scaffolding %s: %w", name, err)
		}
	}

	configDir := filepath.Join(root, "instance", "configs")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, err
	}
	seed := []byte("{\"identity_provider\": {\"url\": \"\"}}\n")
	if err := os.WriteFile(filepath.Join(configDir, "master_config.json"), seed, 0o644); err != nil {
		return nil, err
	}

	identity, err := NewIdentityStub()
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		identity.Close()
		return nil, err
	}

	interval := config.ProbeInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	rt := orchestrator.DefaultRuntime()
	rt.Root = root
	rt.ListenAddr = fmt.Sprintf("127.0.0.1:%d", port)
	rt.CoreServiceURL = identity.URL()
	rt.ProbeInterval = orchestrator.Duration(interval)

	return &Platform{
		Root:     root,
		BaseURL:  "http://" + rt.ListenAddr,
		Identity: identity,
		parent:   parent,
		runtime:  rt,
	}, nil
}

// Start boots the orchestrator and blocks until the control API
// answers.
func (p *Platform) Start() error {
	o, err := orchestrator.New(orchestrator.Config{Runtime: p.runtime, Logger: zerolog.Nop()})
	if err != nil {
		return err
	}
	if err := o.Start(context.Background()); err != nil {
		return err
	}
	p.orch = o

	token, err := p.Identity.MintAdminToken("e2e-admin")
	if err != nil {
		return fmt.Errorf("minting admin token: %w", err)
	}
	p.Client = client.NewClientWithToken(p.BaseURL, token)

	if err := DefaultWaiter().WaitForAPI(context.Background(), p.Client); err != nil {
		return fmt.Errorf("control API never came up: %w", err)
	}
	return nil
}

// Cleanup stops every managed process, shuts the orchestrator down and
// removes the scaffold.
func (p *Platform) Cleanup() error {
	if p.Client != nil {
		_ = p.Client.Close()
	}

	var err error
	if p.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		err = p.orch.Shutdown(ctx, true)
	}
	if p.Identity != nil {
		p.Identity.Close()
	}
	if rmErr := os.RemoveAll(p.parent); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// ClientWithToken returns a fresh API client using the given bearer
// token. The caller owns Close.
func (p *Platform) ClientWithToken(token string) *client.Client {
	return client.NewClientWithToken(p.BaseURL, token)
}

// ServiceDir is the scaffolded checkout directory for a sibling
// service.
func (p *Platform) ServiceDir(name string) string {
	return filepath.Join(p.parent, paths.ServiceDirPrefix+name)
}

// writeServiceCheckout fabricates a managed python checkout whose
// interpreter is the given shell script.
func writeServiceCheckout(parent, name, script string) error {
	dir := filepath.Join(parent, paths.ServiceDirPrefix+name)
	if err := os.MkdirAll(filepath.Join(dir, "pyenv", "bin"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "pyenv", "bin", "python"), []byte(script), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "run.py"), []byte("print('up')\n"), 0o644)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
