//go:build linux

package usbid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database caches vendor, product and interface class names from the USB ID
// database.
type Database struct {
	vendors  map[uint16]string // VID -> vendor name
	products map[uint32]string // (VID<<16)|PID -> product name
	classes  map[uint16]string // (class<<8)|subclass -> name, subclass 0xff for the class itself
	loaded   bool
	mu       sync.RWMutex
	paths    []string
}

// classKey is the key of the class name itself, as opposed to a subclass.
const classKey = 0xff

// New creates a database that searches the default paths.
func New() *Database {
	return NewWithPaths(DefaultPaths)
}

// NewWithPaths creates a database that searches paths in order.
func NewWithPaths(paths []string) *Database {
	return &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		classes:  make(map[uint16]string),
		paths:    paths,
	}
}

// Load parses the first database file found. Subsequent calls do nothing.
// Returns the path loaded, or "" if no file could be opened.
func (db *Database) Load() string {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.loaded {
		return ""
	}
	db.loaded = true

	for _, path := range db.paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		db.parse(f)
		f.Close()
		return path
	}
	return ""
}

// Parse reads database entries from r, adding to what is already loaded.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.loaded = true
	return db.parse(r)
}

type section int

const (
	sectionNone section = iota
	sectionVendor
	sectionClass
)

// parse handles vendor blocks ("vvvv  Name" with "\tpppp  Name" products)
// and class blocks ("C cc  Name" with "\tss  Name" subclasses). Protocol
// lines and every other section are skipped.
func (db *Database) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	var (
		sec   section
		vid   uint16
		class uint8
	)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		if line[0] != '\t' {
			sec = sectionNone
			if rest, ok := strings.CutPrefix(line, "C "); ok {
				if id, name, ok := splitEntry(rest, 2); ok {
					class = uint8(id)
					db.classes[uint16(class)<<8|classKey] = name
					sec = sectionClass
				}
				continue
			}
			if id, name, ok := splitEntry(line, 4); ok {
				vid = uint16(id)
				db.vendors[vid] = name
				sec = sectionVendor
			}
			continue
		}

		// Doubly indented lines are interfaces or protocols.
		line = line[1:]
		if strings.HasPrefix(line, "\t") {
			continue
		}
		switch sec {
		case sectionVendor:
			if id, name, ok := splitEntry(line, 4); ok {
				db.products[uint32(vid)<<16|uint32(id)] = name
			}
		case sectionClass:
			if id, name, ok := splitEntry(line, 2); ok {
				db.classes[uint16(class)<<8|uint16(id)] = name
			}
		}
	}
	return scanner.Err()
}

// splitEntry splits "hhhh  Name" where the id has digits hex digits.
func splitEntry(line string, digits int) (uint64, string, bool) {
	if len(line) < digits+2 || line[digits] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:digits], 16, digits*4)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimLeft(line[digits+1:], " ")
	if name == "" {
		return 0, "", false
	}
	return id, name, true
}

// LookupVendor returns the vendor name for vid, or "".
func (db *Database) LookupVendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// LookupProduct returns the product name for vid:pid, or "".
func (db *Database) LookupProduct(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// LookupClass returns the name of an interface class and subclass, e.g.
// "Audio / Streaming". Unknown subclasses yield the class name alone.
func (db *Database) LookupClass(class, subclass uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	name := db.classes[uint16(class)<<8|classKey]
	if name == "" {
		return ""
	}
	if sub := db.classes[uint16(class)<<8|uint16(subclass)]; sub != "" {
		return name + " / " + sub
	}
	return name
}

// Describe returns "vvvv:pppp Vendor Product", leaving out names that are
// not in the database.
func (db *Database) Describe(vid, pid uint16) string {
	s := fmt.Sprintf("%04x:%04x", vid, pid)
	if v := db.LookupVendor(vid); v != "" {
		s += " " + v
	}
	if p := db.LookupProduct(vid, pid); p != "" {
		s += " " + p
	}
	return s
}

// IsLoaded reports whether Load or Parse has run.
func (db *Database) IsLoaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.loaded
}
