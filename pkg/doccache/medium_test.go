package doccache_test

import (
	"errors"

	"github.com/calvinalkan/docstore/pkg/doccache"
)

var errInjected = errors.New("injected")

// memMedium is an in-memory [doccache.Medium] with failure injection.
type memMedium struct {
	data   []byte
	locked bool

	reads      int
	overwrites int
	unlocks    int

	readErr      error
	overwriteErr error
	lockErr      error
	unlockErr    error
}

var _ doccache.Medium = (*memMedium)(nil)

func (m *memMedium) Read() ([]byte, error) {
	m.reads++

	if m.readErr != nil {
		return nil, m.readErr
	}

	return append([]byte(nil), m.data...), nil
}

func (m *memMedium) Overwrite(data []byte) error {
	m.overwrites++

	if m.overwriteErr != nil {
		return m.overwriteErr
	}

	m.data = append([]byte(nil), data...)

	return nil
}

func (m *memMedium) Lock() (bool, error) {
	if m.lockErr != nil {
		return false, m.lockErr
	}

	if m.locked {
		return false, nil
	}

	m.locked = true

	return true, nil
}

func (m *memMedium) Unlock() error {
	m.unlocks++

	if m.unlockErr != nil {
		return m.unlockErr
	}

	m.locked = false

	return nil
}

func (m *memMedium) hooks() doccache.Hooks {
	return doccache.Hooks{
		Read:        m.Read,
		Overwrite:   m.Overwrite,
		SetLock:     m.Lock,
		ReleaseLock: m.Unlock,
	}
}
