// Package params is a small live parameter store.
//
// Parameters are non-negative floats declared by the component that owns
// them. Values can be changed at any time from any goroutine; readers pick
// up the new value on their next Get. Overrides supplied before a
// parameter is declared replace its default at declaration.
package params

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrUnknown         = errors.New("params: unknown parameter")
	ErrAlreadyDeclared = errors.New("params: parameter already declared")
	ErrNegative        = errors.New("params: value must be non-negative")
	ErrNotFinite       = errors.New("params: value must be finite")
)

// ChangeFunc is called after a parameter changes, on the setter's goroutine.
type ChangeFunc func(name string, value float64)

type param struct {
	bits      atomic.Uint64
	onChanges []ChangeFunc
}

func (p *param) load() float64 {
	return math.Float64frombits(p.bits.Load())
}

// Store holds declared parameters and pending overrides.
type Store struct {
	mu        sync.RWMutex
	params    map[string]*param
	overrides map[string]float64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		params:    make(map[string]*param),
		overrides: make(map[string]float64),
	}
}

func validate(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s=%v", ErrNotFinite, name, v)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s=%v", ErrNegative, name, v)
	}
	return nil
}

// Override sets values applied when the named parameters are declared.
// Already declared parameters are set immediately.
func (s *Store) Override(values map[string]float64) error {
	for name, v := range values {
		if err := validate(name, v); err != nil {
			return err
		}
	}

	s.mu.Lock()
	var declared []string
	for name, v := range values {
		if _, ok := s.params[name]; ok {
			declared = append(declared, name)
			continue
		}
		s.overrides[name] = v
	}
	s.mu.Unlock()

	for _, name := range declared {
		if err := s.Set(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Declare registers name with default def and returns the effective value.
func (s *Store) Declare(name string, def float64) (float64, error) {
	if err := validate(name, def); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.params[name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyDeclared, name)
	}

	v := def
	if o, ok := s.overrides[name]; ok {
		v = o
		delete(s.overrides, name)
	}
	p := &param{}
	p.bits.Store(math.Float64bits(v))
	s.params[name] = p
	return v, nil
}

// Get returns the current value of name.
func (s *Store) Get(name string) (float64, error) {
	s.mu.RLock()
	p, ok := s.params[name]
	s.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return p.load(), nil
}

// Seconds returns name, interpreted as seconds, as a time.Duration.
func (s *Store) Seconds(name string) (time.Duration, error) {
	v, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	return time.Duration(math.Round(v * float64(time.Second))), nil
}

// Set changes name and runs its change callbacks.
func (s *Store) Set(name string, v float64) error {
	if err := validate(name, v); err != nil {
		return err
	}

	s.mu.RLock()
	p, ok := s.params[name]
	var callbacks []ChangeFunc
	if ok {
		callbacks = slices.Clone(p.onChanges)
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}

	p.bits.Store(math.Float64bits(v))
	for _, fn := range callbacks {
		fn(name, v)
	}
	return nil
}

// OnChange registers fn for changes to name.
func (s *Store) OnChange(name string, fn ChangeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.params[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	p.onChanges = append(p.onChanges, fn)
	return nil
}

// Snapshot returns all declared parameters.
func (s *Store) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.params))
	for name, p := range s.params {
		out[name] = p.load()
	}
	return out
}

// Names returns the declared parameter names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.params))
	for name := range s.params {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
