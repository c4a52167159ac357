// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package storageclass

import (
	"io"

	"git.lukeshu.com/go/lowmemjson"
)

// classDump is the wire shape for one class entry in a registry dump
// (the human-readable sibling of the binary metadata image, used by
// the `mfsmaster -d` / info tooling to render the class table).
type classDump struct {
	ID        uint8  `json:"id"`
	Name      string `json:"name"`
	AdminOnly bool   `json:"admin_only"`
	Spec      string `json:"spec"`
	InUse     bool   `json:"in_use"`
}

// DumpJSON writes the full class table to w as a JSON array ordered
// by id, for the metadata dump/info path (§4.4, §4.9).
func (r *Registry) DumpJSON(w io.Writer) error {
	r.mu.Lock()
	classes := make([]classDump, 0, MaxClasses)
	for _, c := range r.classes {
		if c == nil {
			continue
		}
		classes = append(classes, classDump{
			ID:        c.ID,
			Name:      c.Name,
			AdminOnly: c.AdminOnly,
			Spec:      c.Spec.String(),
			InUse:     c.InUse(),
		})
	}
	r.mu.Unlock()

	return lowmemjson.Encode(w, classes)
}
