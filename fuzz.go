// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package elfdebuginfo is the module root: it exists only to carry the
// go-fuzz entry point, grounded on the teacher's root-level fuzz.go
// (pe.Fuzz), generalized from pe.NewBytes+Parse to this core's
// image.OpenBytes+debuginfo.Read.
package elfdebuginfo

import (
	"github.com/saferwall/elfdebuginfo/debuginfo"
	"github.com/saferwall/elfdebuginfo/image"
	"github.com/saferwall/elfdebuginfo/policy"
	"github.com/saferwall/elfdebuginfo/sections"
)

// Fuzz feeds data through Identify, Section/Segment Discovery, and
// Symbol Extraction as a single amd64 object mapped rx+rw over its
// whole file extent — the simplest mapping shape that lets every
// parsing path in the core be reached without a real process attach.
func Fuzz(data []byte) int {
	img := image.OpenBytes("fuzz-input", data)

	di := &debuginfo.DebugInfo{
		Filename: "fuzz-input",
		Image:    img,
		Mappings: []sections.Mapping{
			{AVMA: 0, Size: uint64(len(data)), FOff: 0, RX: true, RW: true},
		},
	}

	if !debuginfo.Read(di, policy.LinuxAMD64(), debuginfo.Config{}, nil, debuginfo.Collaborators{}) {
		return 0
	}
	return 1
}
