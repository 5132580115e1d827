// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package output defines output configurations: named destinations for
// generated files together with the write policy applied to them.
//
// A Set is the read-only lookup the synchronizer resolves output names
// against. Sets are built in code or loaded from YAML or HCL files.
package output

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultName is the name of the configuration returned by Default.
const DefaultName = "DEFAULT_OUTPUT"

// DefaultDirectory is the output directory of the default configuration.
const DefaultDirectory = "./src-gen"

var (
	// ErrDuplicateName is returned when a set contains the same name twice.
	ErrDuplicateName = errors.New("duplicate output configuration name")

	// ErrInvalid is wrapped by validation failures.
	ErrInvalid = errors.New("invalid output configuration")
)

// outputValidate is shared by all validations in this package.
var outputValidate *validator.Validate

func init() {
	outputValidate = validator.New()
	_ = outputValidate.RegisterValidation("relpath", validateRelPath)
}

// validateRelPath accepts slash-separated relative paths that stay inside
// the project they are resolved against.
func validateRelPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, seg := range strings.Split(path.Clean(p), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// Configuration is one named output destination. Values are immutable once
// placed in a Set.
type Configuration struct {
	// Name identifies the configuration, e.g. "DEFAULT_OUTPUT".
	Name string `yaml:"name" json:"name" validate:"required"`

	// OutputDirectory is relative to the project root, e.g. "./src-gen".
	OutputDirectory string `yaml:"directory" json:"directory" validate:"required,relpath"`

	// CreateOutputDirectory creates a missing directory instead of
	// skipping the write.
	CreateOutputDirectory bool `yaml:"createDirectory" json:"createDirectory"`

	// OverrideExistingResources allows replacing existing files.
	OverrideExistingResources bool `yaml:"overrideExisting" json:"overrideExisting"`

	// SetDerivedProperty marks written files as derived.
	SetDerivedProperty bool `yaml:"setDerived" json:"setDerived"`

	// Description is free text for humans.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks required fields and the shape of OutputDirectory.
func (c Configuration) Validate() error {
	if err := outputValidate.Struct(c); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalid, c.Name, err)
	}
	return nil
}

// Default returns the configuration used when nothing else is configured.
func Default() Configuration {
	return Configuration{
		Name:                      DefaultName,
		OutputDirectory:           DefaultDirectory,
		CreateOutputDirectory:     true,
		OverrideExistingResources: true,
		SetDerivedProperty:        true,
		Description:               "Output folder",
	}
}

// Set is an immutable collection of configurations keyed by name.
//
// Thread Safety: Safe for concurrent use.
type Set struct {
	byName map[string]Configuration
}

// NewSet validates configs and indexes them by name.
func NewSet(configs ...Configuration) (*Set, error) {
	s := &Set{byName: make(map[string]Configuration, len(configs))}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
		}
		s.byName[c.Name] = c
	}
	return s, nil
}

// DefaultSet returns a set holding only Default().
func DefaultSet() *Set {
	s, _ := NewSet(Default())
	return s
}

// Get returns the configuration named name.
func (s *Set) Get(name string) (Configuration, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Names returns all configuration names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configurations.
func (s *Set) Len() int {
	return len(s.byName)
}
