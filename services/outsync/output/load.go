// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package output

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for file extensions LoadFile cannot read.
var ErrUnsupportedFormat = errors.New("unsupported output configuration format")

// fileConfig is the on-disk form shared by YAML files. Flags are pointers so
// that omitted flags take the Default() value.
type fileConfig struct {
	Name             string `yaml:"name"`
	Directory        string `yaml:"directory"`
	CreateDirectory  *bool  `yaml:"createDirectory"`
	OverrideExisting *bool  `yaml:"overrideExisting"`
	SetDerived       *bool  `yaml:"setDerived"`
	Description      string `yaml:"description"`
}

type yamlFile struct {
	Outputs []fileConfig `yaml:"outputs"`
}

type hclOutput struct {
	Name             string  `hcl:"name,label"`
	Directory        string  `hcl:"directory"`
	CreateDirectory  *bool   `hcl:"create_directory,optional"`
	OverrideExisting *bool   `hcl:"override_existing,optional"`
	SetDerived       *bool   `hcl:"set_derived,optional"`
	Description      *string `hcl:"description,optional"`
}

type hclFile struct {
	Outputs []*hclOutput `hcl:"output,block"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (f fileConfig) configuration() Configuration {
	def := Default()
	return Configuration{
		Name:                      f.Name,
		OutputDirectory:           f.Directory,
		CreateOutputDirectory:     boolOr(f.CreateDirectory, def.CreateOutputDirectory),
		OverrideExistingResources: boolOr(f.OverrideExisting, def.OverrideExistingResources),
		SetDerivedProperty:        boolOr(f.SetDerived, def.SetDerivedProperty),
		Description:               f.Description,
	}
}

// LoadFile reads a set from a .yaml, .yml or .hcl file.
//
// Description:
//
//	YAML files hold a top-level "outputs" list. HCL files hold "output"
//	blocks labelled with the configuration name; expressions may read
//	environment variables through env.NAME. Omitted flags default to true.
//
// Outputs:
//
//	*Set - The validated set.
//	error - Non-nil on read, parse or validation failure.
func LoadFile(filename string) (*Set, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read output configurations: %w", err)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".hcl":
		return ParseHCL(filename, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// ParseYAML parses a YAML document into a set. Unknown keys are rejected.
func ParseYAML(data []byte) (*Set, error) {
	var doc yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse output configurations: %w", err)
	}
	configs := make([]Configuration, 0, len(doc.Outputs))
	for _, o := range doc.Outputs {
		configs = append(configs, o.configuration())
	}
	return NewSet(configs...)
}

// ParseHCL parses HCL source into a set. filename is used in diagnostics.
func ParseHCL(filename string, src []byte) (*Set, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var doc hclFile
	diags = gohcl.DecodeBody(file.Body, envEvalContext(), &doc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	configs := make([]Configuration, 0, len(doc.Outputs))
	for _, o := range doc.Outputs {
		fc := fileConfig{
			Name:             o.Name,
			Directory:        o.Directory,
			CreateDirectory:  o.CreateDirectory,
			OverrideExisting: o.OverrideExisting,
			SetDerived:       o.SetDerived,
		}
		if o.Description != nil {
			fc.Description = *o.Description
		}
		configs = append(configs, fc.configuration())
	}
	return NewSet(configs...)
}

// envEvalContext exposes the process environment as the env object.
func envEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || !hclIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func hclIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}
