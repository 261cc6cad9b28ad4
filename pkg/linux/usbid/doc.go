//go:build linux

// Package usbid looks up vendor, product and interface class names in the
// USB ID database shipped with most Linux systems.
//
//	db := usbid.New()
//	db.Load()
//	log.Info(db.Describe(0x0d8c, 0x0014))
//	log.Info(db.LookupClass(0x01, 0x02)) // "Audio / Streaming"
//
// The first readable file of [DefaultPaths] is used. Lookups on a database
// that could not be loaded return empty names. All methods are safe for
// concurrent use.
package usbid
