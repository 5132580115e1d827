// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package region

// Kind tags a Content value.
type Kind int

const (
	// KindPlain is generated text without provenance data.
	KindPlain Kind = iota

	// KindTraced is generated text carrying a trace region tree.
	KindTraced
)

// String returns "plain" or "traced".
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindTraced:
		return "traced"
	default:
		return "unknown"
	}
}

// Content is the text a generator hands over for one artifact, tagged with
// whether it carries trace data. The zero value is empty plain text.
type Content struct {
	kind   Kind
	text   string
	region *Region
}

// PlainText wraps text without trace data.
func PlainText(text string) Content {
	return Content{kind: KindPlain, text: text}
}

// TracedText wraps text together with its trace region. A nil region is
// still tagged as traced; consumers treat it as "no trace produced".
func TracedText(text string, r *Region) Content {
	return Content{kind: KindTraced, text: text, region: r}
}

// Kind returns the tag.
func (c Content) Kind() Kind { return c.kind }

// Text returns the generated text.
func (c Content) Text() string { return c.text }

// Region returns the trace region and whether the content is traced with a
// non-nil tree.
func (c Content) Region() (*Region, bool) {
	if c.kind != KindTraced || c.region == nil {
		return nil, false
	}
	return c.region, true
}

// WithText returns a copy with the text replaced and the tag and region kept.
func (c Content) WithText(text string) Content {
	c.text = text
	return c
}
