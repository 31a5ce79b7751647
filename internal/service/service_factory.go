package service

import (
	"github.com/vertec-io/hyperfactory-waitlist/internal/client"
	"github.com/vertec-io/hyperfactory-waitlist/internal/guard"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	guard  *guard.Guard
	crm    CRM
	events *client.EventPublisher
	audit  *client.AuditSink

	waitlistService *WaitlistService
}

// NewServiceFactory creates a new service factory. The events publisher and
// audit sink may be nil when the corresponding backend is not configured.
func NewServiceFactory(g *guard.Guard, crm CRM, events *client.EventPublisher, audit *client.AuditSink) *ServiceFactory {
	return &ServiceFactory{
		guard:  g,
		crm:    crm,
		events: events,
		audit:  audit,
	}
}

// WaitlistService returns the waitlist service instance (singleton)
func (f *ServiceFactory) WaitlistService() *WaitlistService {
	if f.waitlistService == nil {
		f.waitlistService = NewWaitlistService(f.guard, f.crm, f.events, f.audit)
	}
	return f.waitlistService
}
