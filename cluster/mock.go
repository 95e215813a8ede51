package cluster

import (
	"context"
	"fmt"
)

// MockSsh is a fake Ssh session keyed by exact command text, letting
// Controller tests exercise squeue/scancel parsing without a real cluster
// (spec §9: "a mock variant powers C7 tests without a real cluster").
type MockSsh struct {
	Responses map[string]string
	Errors    map[string]error
	Commands  []string
	Closed    bool
}

func NewMockSsh() *MockSsh {
	return &MockSsh{Responses: map[string]string{}, Errors: map[string]error{}}
}

func (m *MockSsh) RunCommand(_ context.Context, cmd string) (string, error) {
	m.Commands = append(m.Commands, cmd)
	if err, ok := m.Errors[cmd]; ok {
		return "", err
	}
	return m.Responses[cmd], nil
}

func (m *MockSsh) Close() error {
	m.Closed = true
	return nil
}

// MockFactory hands out a fixed MockSsh for every Spawn/SpawnJumped call.
type MockFactory struct {
	Session *MockSsh
	Err     error
}

func (f *MockFactory) Spawn(context.Context) (Ssh, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Session, nil
}

func (f *MockFactory) SpawnJumped(_ context.Context, jumpTo string) (Ssh, error) {
	if f.Err != nil {
		return nil, fmt.Errorf("cluster: %w (jumped via %s)", f.Err, jumpTo)
	}
	return f.Session, nil
}
