package server

import (
	"cvautomation/pkg/pixel"
	"cvautomation/pkg/variant"
)

// VariablesListener observes writes to the shared host variable store
// (spec §4.6 "Shared-store semantics").
type VariablesListener interface {
	OnVariableSet(name string, value variant.Value)
	OnClearAll()
}

// SetVariable writes name into the variant store. An empty value removes
// the name; a value of type Image is redirected to the image store and
// removes any variant of the same name (cross-exclusivity). Writing a
// non-image value likewise removes any image variable of the same name, so
// a name lives in exactly one of the two maps at a time.
func (s *Server) SetVariable(name string, value variant.Value) error {
	s.varsMu.Lock()
	defer s.varsMu.Unlock()

	if value.IsEmpty() {
		delete(s.variables, name)
		delete(s.imageVariables, name)
		s.notifyVariableSetLocked(name, value)
		return nil
	}
	if value.Type() == variant.Image {
		delete(s.variables, name)
		s.imageVariables[name] = value.Image()
		s.notifyVariableSetLocked(name, value)
		return nil
	}

	delete(s.imageVariables, name)
	s.variables[name] = value
	s.notifyVariableSetLocked(name, value)
	return nil
}

// GetVariable reads name from the variant store, falling back to the image
// store. An unset name returns an Empty value, the same value SetVariable
// uses to mean "removed".
func (s *Server) GetVariable(name string) (variant.Value, error) {
	s.varsMu.Lock()
	defer s.varsMu.Unlock()

	if v, ok := s.variables[name]; ok {
		return v, nil
	}
	if buf, ok := s.imageVariables[name]; ok {
		return variant.NewImage(buf), nil
	}
	return variant.NewEmpty(), nil
}

// SetImageVariable writes name into the image store directly, bypassing the
// variant.Value wrapping SetVariable requires. A nil buffer removes name.
func (s *Server) SetImageVariable(name string, buf *pixel.Buffer) error {
	s.varsMu.Lock()
	defer s.varsMu.Unlock()

	if buf == nil {
		delete(s.imageVariables, name)
		s.notifyVariableSetLocked(name, variant.NewEmpty())
		return nil
	}
	delete(s.variables, name)
	s.imageVariables[name] = buf
	s.notifyVariableSetLocked(name, variant.NewImage(buf))
	return nil
}

// GetImageVariable reads name from the image store only.
func (s *Server) GetImageVariable(name string) (*pixel.Buffer, error) {
	s.varsMu.Lock()
	defer s.varsMu.Unlock()
	return s.imageVariables[name], nil
}

// ClearAllVariables empties both stores and notifies the listener, if any,
// while still holding the lock (spec §4.6: "listener ... is called while
// holding the lock").
func (s *Server) ClearAllVariables() {
	s.varsMu.Lock()
	defer s.varsMu.Unlock()
	s.variables = make(map[string]variant.Value)
	s.imageVariables = make(map[string]*pixel.Buffer)
	if s.varsListener != nil {
		s.varsListener.OnClearAll()
	}
}

// SetVariablesListener installs l as the sole shared-store listener,
// optionally replaying every currently-held variable to it first.
func (s *Server) SetVariablesListener(l VariablesListener, notifyExisting bool) {
	s.varsMu.Lock()
	defer s.varsMu.Unlock()
	s.varsListener = l
	if !notifyExisting || l == nil {
		return
	}
	for name, v := range s.variables {
		l.OnVariableSet(name, v)
	}
	for name, buf := range s.imageVariables {
		l.OnVariableSet(name, variant.NewImage(buf))
	}
}

func (s *Server) notifyVariableSetLocked(name string, value variant.Value) {
	if s.varsListener != nil {
		s.varsListener.OnVariableSet(name, value)
	}
}
