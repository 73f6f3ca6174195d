// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package buf

import (
	"unsafe"

	"github.com/corelease/corelease/layout"
)

func offsetPointer[T any](base uintptr, index int) unsafe.Pointer {
	var zero T
	return unsafe.Pointer(base + uintptr(index)*unsafe.Sizeof(zero))
}

func blockBytes(b layout.Block) []byte {
	return b.Bytes()
}

func addrBytes(addr uintptr, size uintptr) []byte {
	return layout.Block{Ptr: addr, Size: size}.Bytes()
}
