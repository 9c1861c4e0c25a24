package state

import (
	"context"
	"slices"

	"github.com/docker/agentcall/pkg/concurrent"
)

// Memory is a process-local Store.
type Memory struct {
	values *concurrent.Map[string, []byte]
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		values: concurrent.NewMap[string, []byte](),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	v, ok := m.values.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.values.Store(key, slices.Clone(value))
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.values.Delete(key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	return m.values.Length()
}
