// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scope implements Scope, a namespace of named variables, and Variable, the slot holding
// either a dense tensor or a selected-rows sparse tensor.
//
// Scopes form a tree: usually there is one root scope shared by the whole program, and one child scope per
// participating device, so that the same variable name (e.g. "grad") resolves to a different instance on
// each device.
package scope

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// Scope holds named variables, and references to its parent and children scopes.
//
// It is safe for concurrent use.
type Scope struct {
	parent *Scope

	mu       sync.Mutex
	vars     map[string]*Variable
	children []*Scope
}

// New creates a new root scope.
func New() *Scope {
	return &Scope{vars: make(map[string]*Variable)}
}

// NewScope creates a child scope of s.
func (s *Scope) NewScope() *Scope {
	child := New()
	child.parent = s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, child)
	return child
}

// Parent scope, or nil for the root scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Children returns the list of child scopes, in creation order.
func (s *Scope) Children() []*Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.children)
}

// Var returns the variable with the given name in this scope, creating an empty one if it doesn't exist yet.
// It doesn't search the parent scopes.
func (s *Scope) Var(name string) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, found := s.vars[name]; found {
		return v
	}
	v := &Variable{name: name}
	s.vars[name] = v
	return v
}

// FindLocalVar returns the variable with the given name in this scope only, or nil if not found.
func (s *Scope) FindLocalVar(name string) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[name]
}

// FindVar returns the variable with the given name, searching this scope and then its ancestors.
// It returns nil if not found.
func (s *Scope) FindVar(name string) *Variable {
	for current := s; current != nil; current = current.parent {
		if v := current.FindLocalVar(name); v != nil {
			return v
		}
	}
	return nil
}

// LookupVar is FindVar, but returns an error if the variable is not found.
func (s *Scope) LookupVar(name string) (*Variable, error) {
	v := s.FindVar(name)
	if v == nil {
		return nil, errors.Errorf("variable %q not found in scope", name)
	}
	return v, nil
}

// LocalVarNames returns the sorted names of the variables declared in this scope.
func (s *Scope) LocalVarNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EraseVars removes the given variables from this scope. Unknown names are ignored.
func (s *Scope) EraseVars(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		delete(s.vars, name)
	}
}
