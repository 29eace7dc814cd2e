package sources

import (
	"spreadwatch/internal/application/port"
)

// ClientPicker routes the scheduler's source rotation through probed
// registry health. A source the registry reports blocked or unreachable
// drops out of rotation until the reconnector revives it; the scheduler
// sizes its rotation by ActiveCount so a shrunken set still cools down
// after one full pass over what remains.
type ClientPicker struct {
	registry *Registry
	clients  map[string]port.MarketData
}

// NewClientPicker pairs the registry with the client built for each
// source, keyed by source name.
func NewClientPicker(registry *Registry, clients map[string]port.MarketData) *ClientPicker {
	return &ClientPicker{registry: registry, clients: clients}
}

func (p *ClientPicker) Pick(rotation int) (port.MarketData, bool) {
	src, ok := p.registry.Pick(rotation)
	if !ok {
		return nil, false
	}
	client, ok := p.clients[src.Name]
	return client, ok
}

func (p *ClientPicker) ActiveCount() int {
	return p.registry.ActiveCount()
}

var _ port.SourcePicker = (*ClientPicker)(nil)
