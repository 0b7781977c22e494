package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	accounts     []*StakeAccountsEvent
	progress     []*RewardsProgressEvent
	reports      []*StakeReportEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishAccounts records the event and returns any configured error.
func (m *MockPublisher) PublishAccounts(ctx context.Context, event *StakeAccountsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.accounts = append(m.accounts, event)
	return nil
}

// PublishRewardsProgress records the event and returns any configured error.
func (m *MockPublisher) PublishRewardsProgress(ctx context.Context, event *RewardsProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.progress = append(m.progress, event)
	return nil
}

// PublishReport records the event and returns any configured error.
func (m *MockPublisher) PublishReport(ctx context.Context, event *StakeReportEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.reports = append(m.reports, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// AccountsEvents returns all published account snapshots.
func (m *MockPublisher) AccountsEvents() []*StakeAccountsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*StakeAccountsEvent(nil), m.accounts...)
}

// ProgressEvents returns all published reward progress events.
func (m *MockPublisher) ProgressEvents() []*RewardsProgressEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*RewardsProgressEvent(nil), m.progress...)
}

// Reports returns all published reports.
func (m *MockPublisher) Reports() []*StakeReportEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*StakeReportEvent(nil), m.reports...)
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
