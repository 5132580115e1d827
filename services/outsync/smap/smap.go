// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package smap derives JSR-045 source maps (SMAP) from trace regions.
//
// A source map lets a debugger step through generated code while showing
// the originating source lines. The builder walks a region tree depth-first
// and emits one line stripe per located source span:
//
//	SMAP
//	A.java
//	Outsync
//	*S Outsync
//	*F
//	+ 1 Foo.dsl
//	proj/src/Foo.dsl
//	*L
//	3#1,3:1
//	*E
//
// A stripe "in#file,repeat:out,incr" maps source lines in..in+repeat-1 to
// output lines starting at out, advancing incr output lines per source line.
package smap

import (
	"fmt"
	"path"
	"strings"

	"github.com/AleutianAI/outsync/services/outsync/region"
)

// DefaultStratum is the stratum name written when Builder.Stratum is empty.
const DefaultStratum = "Outsync"

// Builder produces SMAP text. The zero value is ready to use.
type Builder struct {
	// Stratum names the source language in the SMAP header.
	Stratum string
}

// stripe is one line-info entry.
type stripe struct {
	file   int
	in     int
	repeat int
	out    int
	incr   int
}

func (s stripe) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d#%d", s.in, s.file)
	if s.repeat != 1 {
		fmt.Fprintf(&b, ",%d", s.repeat)
	}
	fmt.Fprintf(&b, ":%d", s.out)
	if s.incr != 1 {
		fmt.Fprintf(&b, ",%d", s.incr)
	}
	return b.String()
}

// follows reports whether next continues s so the two can be one stripe.
func (s stripe) follows(next stripe) bool {
	return s.file == next.file &&
		s.incr == next.incr &&
		s.in+s.repeat == next.in &&
		s.out+s.repeat*s.incr == next.out
}

// Build returns the SMAP for generatedFileName, or false when r carries no
// usable line data.
func Build(r *region.Region, generatedFileName string) (string, bool) {
	return Builder{}.Build(r, generatedFileName)
}

// Build returns the SMAP for generatedFileName, or false when r carries no
// usable line data.
func (b Builder) Build(r *region.Region, generatedFileName string) (string, bool) {
	if r == nil {
		return "", false
	}

	fileIDs := make(map[string]int)
	var files []string
	var stripes []stripe
	seen := make(map[stripe]struct{})

	r.Walk(func(n *region.Region) bool {
		if !n.HasLines() {
			return true
		}
		outCount := n.EndLine - n.StartLine + 1
		for _, loc := range n.Locations {
			if loc.SourceURI == "" || !loc.HasLines() {
				continue
			}
			id, ok := fileIDs[loc.SourceURI]
			if !ok {
				files = append(files, loc.SourceURI)
				id = len(files)
				fileIDs[loc.SourceURI] = id
			}

			inCount := loc.EndLine - loc.StartLine + 1
			s := stripe{file: id, in: loc.StartLine, out: n.StartLine}
			if inCount == outCount {
				s.repeat, s.incr = inCount, 1
			} else {
				s.repeat, s.incr = 1, outCount
			}

			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}

			if last := len(stripes) - 1; last >= 0 && stripes[last].follows(s) {
				stripes[last].repeat += s.repeat
				continue
			}
			stripes = append(stripes, s)
		}
		return true
	})

	if len(stripes) == 0 {
		return "", false
	}

	stratum := b.Stratum
	if stratum == "" {
		stratum = DefaultStratum
	}

	var sb strings.Builder
	sb.WriteString("SMAP\n")
	sb.WriteString(generatedFileName + "\n")
	sb.WriteString(stratum + "\n")
	sb.WriteString("*S " + stratum + "\n")
	sb.WriteString("*F\n")
	for i, uri := range files {
		p := sourcePath(uri)
		fmt.Fprintf(&sb, "+ %d %s\n%s\n", i+1, path.Base(p), p)
	}
	sb.WriteString("*L\n")
	for _, s := range stripes {
		sb.WriteString(s.String() + "\n")
	}
	sb.WriteString("*E\n")
	return sb.String(), true
}

// sourcePath strips the scheme from a source URI so the SMAP names a
// project-relative path.
func sourcePath(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "platform:/resource/"); ok {
		return rest
	}
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[i+3:]
	}
	if i := strings.Index(uri, ":"); i >= 0 {
		return strings.TrimLeft(uri[i+1:], "/")
	}
	return uri
}
