// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mfserr defines the closed set of error kinds that can cross
// the wire protocol (§7), and the mapping between them and the
// single-byte status codes clients and chunk servers understand.
package mfserr

import "fmt"

// Status is the wire-level single-byte status code carried in a reply
// that has no success payload, or prepended to one that does.
type Status uint8

const (
	StatusOK Status = 0

	// Generic POSIX-shaped.
	StatusEPERM    Status = 1
	StatusENOTDIR  Status = 2
	StatusENOENT   Status = 3
	StatusEACCES   Status = 4
	StatusEEXIST   Status = 5
	StatusEINVAL   Status = 6
	StatusENOTEMPTY Status = 7
	StatusENOTSUP  Status = 8
	StatusEROFS    Status = 9
	StatusEIO      Status = 10
	StatusEINTR    Status = 11
	StatusEAGAIN   Status = 12
	StatusETIMEDOUT Status = 13
	StatusEBADF    Status = 14
	StatusEFBIG    Status = 15
	StatusEISDIR   Status = 16
	StatusENAMETOOLONG Status = 17
	StatusEMLINK   Status = 18
	StatusECANCELED Status = 19
	StatusNotOpened Status = 20 // lock request against an inode the session hasn't opened
	StatusMismatch  Status = 21 // metadata-restore replay doesn't match live state

	// Storage-specific.
	StatusChunkLost     Status = 32
	StatusNoChunks      Status = 33
	StatusIndexTooBig   Status = 34
	StatusWrongVersion  Status = 35
	StatusChunkBusy     Status = 36
	StatusWrongOffset   Status = 37
	StatusCRC           Status = 38
	StatusDataMismatch  Status = 39
	StatusCSNotPresent  Status = 40

	// Policy.
	StatusQuota               Status = 48
	StatusAdminOnly            Status = 49
	StatusClassInUse           Status = 50
	StatusNoSuchClass          Status = 51
	StatusPatternLimitReached  Status = 52
	StatusIncompatVersion      Status = 53
	StatusPatternExists        Status = 54
	StatusNoSuchPattern        Status = 55

	// Protocol control — these are not failures, they tell the
	// caller how to proceed.
	StatusWaiting Status = 64 // operation enqueued; a real reply follows later
	StatusDelayed Status = 65 // try again after a short delay
	StatusNotDone Status = 66 // retry; no state changed
)

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

var statusNames = map[Status]string{
	StatusOK:                 "OK",
	StatusEPERM:               "EPERM",
	StatusENOTDIR:             "ENOTDIR",
	StatusENOENT:              "ENOENT",
	StatusEACCES:              "EACCES",
	StatusEEXIST:              "EEXIST",
	StatusEINVAL:              "EINVAL",
	StatusENOTEMPTY:           "ENOTEMPTY",
	StatusENOTSUP:             "ENOTSUP",
	StatusEROFS:               "EROFS",
	StatusEIO:                 "EIO",
	StatusEINTR:               "EINTR",
	StatusEAGAIN:              "EAGAIN",
	StatusETIMEDOUT:           "ETIMEDOUT",
	StatusEBADF:               "EBADF",
	StatusEFBIG:               "EFBIG",
	StatusEISDIR:              "EISDIR",
	StatusENAMETOOLONG:        "ENAMETOOLONG",
	StatusEMLINK:              "EMLINK",
	StatusECANCELED:           "ECANCELED",
	StatusNotOpened:           "NOTOPENED",
	StatusMismatch:            "MISMATCH",
	StatusChunkLost:           "CHUNKLOST",
	StatusNoChunks:            "NOCHUNKS",
	StatusIndexTooBig:         "INDEXTOOBIG",
	StatusWrongVersion:        "WRONGVERSION",
	StatusChunkBusy:           "CHUNKBUSY",
	StatusWrongOffset:         "WRONGOFFSET",
	StatusCRC:                 "CRC",
	StatusDataMismatch:        "DATAMISMATCH",
	StatusCSNotPresent:        "CSNOTPRESENT",
	StatusQuota:               "QUOTA",
	StatusAdminOnly:           "ADMINONLY",
	StatusClassInUse:          "CLASSINUSE",
	StatusNoSuchClass:         "NOSUCHCLASS",
	StatusPatternLimitReached: "PATTERNLIMITREACHED",
	StatusIncompatVersion:     "INCOMPATVERSION",
	StatusPatternExists:       "PATTERNEXISTS",
	StatusNoSuchPattern:       "NOSUCHPATTERN",
	StatusWaiting:             "WAITING",
	StatusDelayed:             "DELAYED",
	StatusNotDone:             "NOTDONE",
}

// Error is a business-logic error that is reported to the client in a
// reply rather than killing the connection. It is the only error type
// that operations in lib/metadata, lib/session, lib/advlock, etc. are
// expected to return along the success path; anything else propagating
// out of those packages is treated as an invariant violation.
type Error struct {
	Status Status
	// Op, when set, names the operation that failed, for logging —
	// never serialized onto the wire.
	Op string
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return e.Status.String()
}

// New constructs an *Error for the given status, optionally tagged
// with the operation name for logs.
func New(status Status, op string) *Error {
	return &Error{Status: status, Op: op}
}

// ToStatus extracts the wire status from err, defaulting to EIO for
// any error that isn't an *Error — such an error indicates a bug or
// an I/O failure that the caller didn't classify, and EIO is the
// conservative wire-visible answer.
func ToStatus(err error) Status {
	if err == nil {
		return StatusOK
	}
	var e *Error
	if As(err, &e) {
		return e.Status
	}
	return StatusEIO
}

// As is a narrow local errors.As to avoid importing the stdlib
// "errors" package just for this one call site in a file that
// otherwise only uses fmt.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Invariant panics; it is used on the persistence paths (§7) where a
// corrupted image or changelog must never be silently tolerated. This
// package has no non-panicking counterpart.
func Invariant(format string, args ...any) {
	panic(fmt.Sprintf("metadata invariant violated: "+format, args...))
}
