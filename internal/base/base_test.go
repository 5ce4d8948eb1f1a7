// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockIDString(t *testing.T) {
	require.Equal(t, "17", BlockID(17).String())
	require.Equal(t, "nil", NilBlockID.String())
}

func TestRecency(t *testing.T) {
	require.Equal(t, "invalid", InvalidRecency.String())
	require.False(t, InvalidRecency.IsValid())
	require.Equal(t, "42", Recency(42).String())
	require.True(t, Recency(42).IsValid())

	// RecencyNow never returns the invalid sentinel.
	require.True(t, RecencyNow().IsValid())
}

func TestMakeFilepath(t *testing.T) {
	require.Equal(t, filepath.Join("d", "petrel.blocks"), MakeFilepath("d", FileTypeData))
	require.Equal(t, filepath.Join("d", "petrel.index"), MakeFilepath("d", FileTypeIndex))
	require.Equal(t, filepath.Join("d", "petrel.index.tmp"), MakeFilepath("d", FileTypeTemp))
	require.Panics(t, func() { MakeFilepath("d", FileType(99)) })
}
