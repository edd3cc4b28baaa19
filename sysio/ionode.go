//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

// Package sysio provides the filesystem abstraction used by the discovery
// core to create, stat and remove flag files. Production code runs over a
// real filesystem (afero.OsFs, a thin passthrough to the os package so the
// atomic open/unlink semantics flagfile depends on are preserved); tests
// that don't depend on kernel watch semantics run over an in-memory one.
package sysio

import (
	"github.com/sirupsen/logrus"

	"github.com/eclipse-score/lola-discovery/domain"
)

func NewIOService(t domain.IOServiceType) domain.IOServiceIface {
	switch t {

	case domain.IOOsFileService:
		return newIOFileService(domain.IOOsFileService)

	case domain.IOMemFileService:
		return newIOFileService(domain.IOMemFileService)

	default:
		logrus.Panic("Unsupported ioService required: ", t)
	}

	return nil
}
