// Package mock implements an in-memory sandbox.Provider for local
// development and tests, where no real sandbox vendor is configured.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/CoderRahul01/unideploy/pkg/sandbox"
)

// Provider is a trivial in-memory sandbox.Provider: Create immediately
// reports the instance as running, Kill just forgets it.
type Provider struct {
	mu        sync.Mutex
	instances map[string]sandbox.Instance
}

// New returns an empty mock Provider.
func New() *Provider {
	return &Provider{instances: make(map[string]sandbox.Instance)}
}

func (p *Provider) Create(ctx context.Context, req sandbox.CreateRequest) (sandbox.Instance, error) {
	id := uuid.NewString()
	inst := sandbox.Instance{ID: id, Status: "running", URL: fmt.Sprintf("http://%s.sandbox.local", id)}

	if req.OnStdout != nil {
		req.OnStdout(fmt.Sprintf("mock sandbox %s booting image %s", id, req.ImageTag))
		req.OnStdout("mock sandbox ready")
	}

	p.mu.Lock()
	p.instances[id] = inst
	p.mu.Unlock()

	return inst, nil
}

func (p *Provider) Kill(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.instances, id)
	return nil
}

func (p *Provider) Connect(ctx context.Context, id string) (sandbox.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return sandbox.Instance{}, fmt.Errorf("sandbox %s not found", id)
	}
	return inst, nil
}

func (p *Provider) Verify(ctx context.Context, workspace, focusFile, patch, errorLog string) (sandbox.VerifyResult, error) {
	return sandbox.VerifyResult{Status: "ok", Output: "mock verify always succeeds"}, nil
}

func (p *Provider) ListActive(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	return ids, nil
}
