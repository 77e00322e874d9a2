package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/genforge/internal/extract"
	"github.com/fyrsmithlabs/genforge/internal/generation"
	"github.com/fyrsmithlabs/genforge/internal/sandbox"
	"github.com/stretchr/testify/mock"
)

// MockGenerator is a mock implementation of generation.Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req generation.Request) (extract.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(extract.Response), args.Error(1)
}

// role matches requests for r.
func role(r generation.Role) interface{} {
	return mock.MatchedBy(func(req generation.Request) bool { return req.Role == r })
}

// MockSandbox is a mock implementation of Sandbox
type MockSandbox struct {
	mock.Mock
}

func (m *MockSandbox) Execute(ctx context.Context, path string, isTest bool) string {
	args := m.Called(ctx, path, isTest)
	return args.String(0)
}

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Persist(ctx context.Context, files map[string]string) (string, error) {
	args := m.Called(ctx, files)
	return args.String(0), args.Error(1)
}

// MockFailureRecorder is a mock implementation of FailureRecorder
type MockFailureRecorder struct {
	mock.Mock
}

func (m *MockFailureRecorder) Record(entry sandbox.FailureEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

func (m *MockFailureRecorder) RecordSuccess(codeFile, testFile string, attempts int) error {
	args := m.Called(codeFile, testFile, attempts)
	return args.Error(0)
}

// MockReviser is a mock implementation of Reviser
type MockReviser struct {
	mock.Mock
}

func (m *MockReviser) Review(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

func (m *MockReviser) Fix(ctx context.Context, code, feedback string) (string, error) {
	args := m.Called(ctx, code, feedback)
	return args.String(0), args.Error(1)
}
