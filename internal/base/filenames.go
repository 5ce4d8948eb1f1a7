// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/redact"
)

// FileType enumerates the types of files found in a serializer directory.
type FileType int

// The FileType enumeration.
const (
	FileTypeData FileType = iota
	FileTypeIndex
	FileTypeTemp
)

var fileTypeStrings = [...]string{
	FileTypeData:  "petrel.blocks",
	FileTypeIndex: "petrel.index",
	FileTypeTemp:  "petrel.index.tmp",
}

func (ft FileType) String() string {
	if ft < 0 || int(ft) >= len(fileTypeStrings) {
		return "unknown"
	}
	return fileTypeStrings[ft]
}

// SafeFormat implements redact.SafeFormatter.
func (ft FileType) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(ft.String()))
}

// MakeFilepath builds the path for a file of the given type within dirname.
func MakeFilepath(dirname string, ft FileType) string {
	if ft < 0 || int(ft) >= len(fileTypeStrings) {
		panic(fmt.Sprintf("unknown file type: %d", ft))
	}
	return filepath.Join(dirname, fileTypeStrings[ft])
}
