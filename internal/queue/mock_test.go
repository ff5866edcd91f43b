package queue_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/aridsondez/tagqueue/internal/queue/store"
)

// MockStore is a mock implementation of store.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Begin(ctx context.Context) (store.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(store.Tx), args.Error(1)
}

func (m *MockStore) DueTags(ctx context.Context, since, until time.Time) ([]string, error) {
	args := m.Called(ctx, since, until)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) Publish(ctx context.Context, tag string) error {
	return m.Called(ctx, tag).Error(0)
}

func (m *MockStore) Subscribe(ctx context.Context, tag string) (store.Subscription, error) {
	args := m.Called(ctx, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(store.Subscription), args.Error(1)
}

func (m *MockStore) Close() {
	m.Called()
}

// MockTx is a mock implementation of store.Tx
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Insert(ctx context.Context, tag, content string, schedule *time.Time) (int64, error) {
	args := m.Called(ctx, tag, content, schedule)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) ClaimNext(ctx context.Context, tag string) (*store.Message, error) {
	args := m.Called(ctx, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Message), args.Error(1)
}

func (m *MockTx) Delete(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockTx) TryDelete(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockTx) IncrementExceptTimes(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockTx) List(ctx context.Context, tag string, opts store.ListOptions) ([]store.Message, error) {
	args := m.Called(ctx, tag, opts)
	return args.Get(0).([]store.Message), args.Error(1)
}

func (m *MockTx) Count(ctx context.Context, tag string, opts store.ListOptions) (int64, error) {
	args := m.Called(ctx, tag, opts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
