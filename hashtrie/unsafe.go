// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package hashtrie

import "unsafe"

func addrToPointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}
