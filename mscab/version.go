package mscab

import "github.com/blang/semver"

// Version is the cabinet format version, exposed as a semver.Version so
// callers (and the cabd.c-style warning in parser.go) can use ordinary comparison
// operators instead of comparing VersionMajor/VersionMinor by hand. This
// mirrors how go-cabfile's lvfscab package compares LVFS release versions
// with github.com/blang/semver.
type Version = semver.Version

// supportedVersion is the highest cabinet format version this package
// understands; cabinets claiming a newer version are still parsed (the
// format has not changed since 1.3) but produce a warning, matching
// libmspack's cabd.c behaviour.
var supportedVersion = Version{Major: 1, Minor: 3}
