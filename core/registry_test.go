package core

import (
	"context"
	"testing"
)

type registeredConnector struct {
	id string
}

func (c registeredConnector) ID() string { return c.id }

func (registeredConnector) ExtractInvoiceDetails(context.Context, WebhookRequest) (InvoiceData, error) {
	return InvoiceData{}, nil
}

func (registeredConnector) ExtractAttemptDetails(context.Context, WebhookRequest) (AttemptData, error) {
	return AttemptData{}, nil
}

func TestBillingConnectorRegistry(t *testing.T) {
	registry := NewBillingConnectorRegistry()

	if err := registry.Register(registeredConnector{id: "chargebee"}); err != nil {
		t.Fatalf("register connector: %v", err)
	}
	if err := registry.Register(registeredConnector{id: "chargebee"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := registry.Register(registeredConnector{}); err == nil {
		t.Fatal("expected blank connector id to fail")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected nil connector to fail")
	}

	connector, ok := registry.Get("chargebee")
	if !ok || connector.ID() != "chargebee" {
		t.Fatalf("expected registered connector, got %v (%v)", connector, ok)
	}
	if _, ok := registry.Get("unknown"); ok {
		t.Fatal("expected unknown connector to be absent")
	}

	if err := registry.Register(registeredConnector{id: "recurly"}); err != nil {
		t.Fatalf("register second connector: %v", err)
	}
	list := registry.List()
	if len(list) != 2 || list[0].ID() != "chargebee" || list[1].ID() != "recurly" {
		t.Fatalf("expected sorted connector list, got %v", list)
	}
}
