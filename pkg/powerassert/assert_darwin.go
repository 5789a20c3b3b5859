//go:build darwin && cgo

package powerassert

/*
#cgo LDFLAGS:  -framework CoreFoundation -framework IOKit

#include <stdlib.h>
#include <CoreFoundation/CoreFoundation.h>
#include <IOKit/pwr_mgt/IOPMLib.h>

// Expose the macro
const CFStringRef AssertionTypeNoIdleSleep = kIOPMAssertionTypeNoIdleSleep;
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type iokitAsserter struct{}

type iokitAssertion struct {
	id C.IOPMAssertionID
}

// NewAsserter returns an IOKit NoIdleSleep asserter.
func NewAsserter() Asserter {
	return iokitAsserter{}
}

func (iokitAsserter) Acquire(reason string) (Assertion, error) {
	cname := C.CString("chargectl")
	cdetail := C.CString(reason)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(cdetail))

	cfName := C.CFStringCreateWithCString(C.kCFAllocatorDefault, cname, C.kCFStringEncodingUTF8)
	cfDetails := C.CFStringCreateWithCString(C.kCFAllocatorDefault, cdetail, C.kCFStringEncodingUTF8)
	defer C.CFRelease(C.CFTypeRef(cfName))
	defer C.CFRelease(C.CFTypeRef(cfDetails))

	var id C.IOPMAssertionID
	status := C.IOPMAssertionCreateWithDescription(
		C.AssertionTypeNoIdleSleep,
		cfName,
		cfDetails,
		0,
		0,
		0,
		0,
		&id,
	)
	if status != C.kIOReturnSuccess {
		return nil, fmt.Errorf("IOPMAssertionCreateWithDescription failed: 0x%x", uint32(status))
	}

	return &iokitAssertion{id: id}, nil
}

func (a *iokitAssertion) Release() error {
	status := C.IOPMAssertionRelease(a.id)
	if status != C.kIOReturnSuccess {
		return fmt.Errorf("IOPMAssertionRelease failed: 0x%x", uint32(status))
	}
	return nil
}
