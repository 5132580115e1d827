// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan describes one generation pass as data and runs it against a
// synchronizer.
//
// A plan stands in for the generator: it lists the artifacts a generator
// would hand over (file name, output configuration, text and optional trace
// region) and the generated files it would delete. Plans are YAML:
//
//	generator: statemachine
//	project: demo
//	artifacts:
//	  - file: A.java
//	    output: DEFAULT_OUTPUT
//	    contents: "class A {}\n"
//	    trace:
//	      offset: 0
//	      length: 11
//	      startLine: 1
//	      endLine: 1
//	      locations:
//	        - uri: platform:/resource/demo/src/A.sm
//	          startLine: 3
//	          endLine: 3
//	  - file: B.txt
//	    contentsFile: templates/B.txt
//	deletes:
//	  - file: Old.java
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/outsync/services/outsync/output"
	"github.com/AleutianAI/outsync/services/outsync/region"
	"github.com/AleutianAI/outsync/services/outsync/sourcetrace"
)

// ErrInvalid is wrapped by plan validation failures.
var ErrInvalid = errors.New("invalid generation plan")

var planValidate = validator.New()

// Plan is one generation pass.
type Plan struct {
	// Generator names the markers installed at the end of the pass.
	// Empty means sourcetrace.DefaultGeneratorName.
	Generator string `yaml:"generator"`

	// Project is the store path output directories are relative to.
	Project string `yaml:"project"`

	Artifacts []Artifact `yaml:"artifacts" validate:"dive"`
	Deletes   []Target   `yaml:"deletes" validate:"dive"`

	// dir resolves ContentsFile; set by LoadFile.
	dir string
}

// Target names one generated file.
type Target struct {
	File string `yaml:"file" validate:"required"`

	// Output is the output configuration name. Empty means output.DefaultName.
	Output string `yaml:"output"`
}

// Artifact is one generated file with its contents.
type Artifact struct {
	Target `yaml:",inline"`

	// Contents is the generated text. Exactly one of Contents and
	// ContentsFile is set.
	Contents *string `yaml:"contents"`

	// ContentsFile is read relative to the plan file.
	ContentsFile string `yaml:"contentsFile"`

	// Trace makes the artifact traced. A missing trace means plain text.
	Trace *region.Region `yaml:"trace"`
}

// OutputName returns Output or the default output name.
func (t Target) OutputName() string {
	if t.Output == "" {
		return output.DefaultName
	}
	return t.Output
}

// GeneratorName returns Generator or the default generator name.
func (p *Plan) GeneratorName() string {
	if p.Generator == "" {
		return sourcetrace.DefaultGeneratorName
	}
	return p.Generator
}

// Dir returns the directory ContentsFile entries are resolved against.
func (p *Plan) Dir() string {
	return p.dir
}

// Validate checks field rules, the contents rule of every artifact and the
// nesting of every trace region.
func (p *Plan) Validate() error {
	if err := planValidate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i, a := range p.Artifacts {
		switch {
		case a.Contents != nil && a.ContentsFile != "":
			return fmt.Errorf("%w: artifacts[%d] %s: contents and contentsFile are exclusive", ErrInvalid, i, a.File)
		case a.Contents == nil && a.ContentsFile == "":
			return fmt.Errorf("%w: artifacts[%d] %s: contents or contentsFile is required", ErrInvalid, i, a.File)
		}
		if err := a.Trace.Validate(); err != nil {
			return fmt.Errorf("%w: artifacts[%d] %s: %v", ErrInvalid, i, a.File, err)
		}
	}
	return nil
}

// Content builds the synchronizer content of a, reading ContentsFile
// relative to dir.
func (a Artifact) Content(dir string) (region.Content, error) {
	text := ""
	if a.Contents != nil {
		text = *a.Contents
	} else {
		name := a.ContentsFile
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return region.Content{}, fmt.Errorf("read contents of %s: %w", a.File, err)
		}
		text = string(data)
	}
	if a.Trace != nil {
		return region.TracedText(text, a.Trace), nil
	}
	return region.PlainText(text), nil
}

// Parse decodes and validates a YAML plan. Unknown keys are rejected.
// ContentsFile entries resolve against dir.
func Parse(data []byte, dir string) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	p.dir = dir
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads the plan at filename.
func LoadFile(filename string) (*Plan, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data, filepath.Dir(filename))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return p, nil
}
