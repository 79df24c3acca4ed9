//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/errclass.go
//

// Package errclass classifies network errors into short, stable labels
// suitable for structured logging and systematic analysis of measurement
// results (e.g. "ETIMEDOUT", "ECONNRESET").
package errclass

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// Classification labels. These are deliberately short and stable across
// platforms: the unix.go/windows.go build-tagged files map each platform's
// native errno to the same syscall.Errno value compared against here.
const (
	EADDRNOTAVAIL   = "EADDRNOTAVAIL"
	EADDRINUSE      = "EADDRINUSE"
	ECONNABORTED    = "ECONNABORTED"
	ECONNREFUSED    = "ECONNREFUSED"
	ECONNRESET      = "ECONNRESET"
	EHOSTUNREACH    = "EHOSTUNREACH"
	EINVAL          = "EINVAL"
	EINTR           = "EINTR"
	ENETDOWN        = "ENETDOWN"
	ENETUNREACH     = "ENETUNREACH"
	ENOBUFS         = "ENOBUFS"
	ENOTCONN        = "ENOTCONN"
	EPROTONOSUPPORT = "EPROTONOSUPPORT"
	ETIMEDOUT       = "ETIMEDOUT"
	EGENERIC        = "EGENERIC"
)

// New classifies err into one of the labels above. It returns the empty
// string for a nil error, and [EGENERIC] for any error it does not
// recognize.
func New(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ETIMEDOUT
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case errEADDRNOTAVAIL:
			return EADDRNOTAVAIL
		case errEADDRINUSE:
			return EADDRINUSE
		case errECONNABORTED:
			return ECONNABORTED
		case errECONNREFUSED:
			return ECONNREFUSED
		case errECONNRESET:
			return ECONNRESET
		case errEHOSTUNREACH:
			return EHOSTUNREACH
		case errEINVAL:
			return EINVAL
		case errEINTR:
			return EINTR
		case errENETDOWN:
			return ENETDOWN
		case errENETUNREACH:
			return ENETUNREACH
		case errENOBUFS:
			return ENOBUFS
		case errENOTCONN:
			return ENOTCONN
		case errEPROTONOSUPPORT:
			return EPROTONOSUPPORT
		case errETIMEDOUT:
			return ETIMEDOUT
		}
	}
	return EGENERIC
}
