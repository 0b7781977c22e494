package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	upsertErr error
	deleteErr error
}

var _ Scheduler = (*MockScheduler)(nil)

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertReportSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertReportSchedule(ctx context.Context, wallet string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.schedules[scheduleID(wallet)] = interval
	return nil
}

// DeleteReportSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteReportSchedule(ctx context.Context, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}

	id := scheduleID(wallet)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// SetUpsertError makes UpsertReportSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError makes DeleteReportSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// ScheduleExists checks if a schedule exists for a wallet.
func (m *MockScheduler) ScheduleExists(wallet string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.schedules[scheduleID(wallet)]
	return exists
}

// GetScheduleInterval returns the interval for a wallet's schedule.
func (m *MockScheduler) GetScheduleInterval(wallet string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, exists := m.schedules[scheduleID(wallet)]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.upsertErr = nil
	m.deleteErr = nil
}
