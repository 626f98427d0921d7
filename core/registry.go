package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type BillingConnectorRegistry struct {
	mu         sync.RWMutex
	connectors map[string]BillingConnector
}

func NewBillingConnectorRegistry() *BillingConnectorRegistry {
	return &BillingConnectorRegistry{connectors: make(map[string]BillingConnector)}
}

func (r *BillingConnectorRegistry) Register(connector BillingConnector) error {
	if connector == nil {
		return fmt.Errorf("core: connector is nil")
	}
	id := strings.TrimSpace(connector.ID())
	if id == "" {
		return fmt.Errorf("core: connector id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[id]; exists {
		return fmt.Errorf("core: connector already registered: %s", id)
	}
	r.connectors[id] = connector
	return nil
}

func (r *BillingConnectorRegistry) Get(connectorID string) (BillingConnector, bool) {
	id := strings.TrimSpace(connectorID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	connector, ok := r.connectors[id]
	r.mu.RUnlock()
	return connector, ok
}

func (r *BillingConnectorRegistry) List() []BillingConnector {
	r.mu.RLock()
	keys := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		keys = append(keys, id)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	connectors := make([]BillingConnector, 0, len(keys))
	r.mu.RLock()
	for _, id := range keys {
		connectors = append(connectors, r.connectors[id])
	}
	r.mu.RUnlock()
	return connectors
}

var _ ConnectorRegistry = (*BillingConnectorRegistry)(nil)
