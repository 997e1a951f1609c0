package fs

import (
	"fmt"
	"strings"
)

// Access is the set of operations a handle is opened for.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessDelete
)

// Share is the set of operations other handles to the same file may be
// opened for while this handle is open.
type Share uint8

const (
	ShareRead Share = 1 << iota
	ShareWrite
	ShareDelete

	ShareNone Share = 0
	ShareAll        = ShareRead | ShareWrite | ShareDelete
)

// Has reports whether every bit of o is set in a.
func (a Access) Has(o Access) bool { return a&o == o }

// Has reports whether every bit of o is set in s.
func (s Share) Has(o Share) bool { return s&o == o }

func (a Access) String() string {
	for _, m := range accessModes {
		if m.Access == a {
			return m.Name
		}
	}

	return fmt.Sprintf("access(%#x)", uint8(a))
}

func (s Share) String() string {
	for _, m := range shareModes {
		if m.Share == s {
			return m.Name
		}
	}

	return fmt.Sprintf("share(%#x)", uint8(s))
}

// AccessMode is a named entry of the access registry.
type AccessMode struct {
	Name   string
	Access Access
	// Reserved modes exist in the registry but are not part of the
	// default conflict matrix. They can still be selected by name.
	Reserved bool
}

// ShareMode is a named entry of the share registry.
type ShareMode struct {
	Name  string
	Share Share
}

var accessModes = [...]AccessMode{
	{Name: "read", Access: AccessRead},
	{Name: "write", Access: AccessWrite},
	{Name: "delete", Access: AccessDelete, Reserved: true},
	{Name: "read-write", Access: AccessRead | AccessWrite},
	{Name: "read-delete", Access: AccessRead | AccessDelete, Reserved: true},
	{Name: "write-delete", Access: AccessWrite | AccessDelete, Reserved: true},
	{Name: "read-write-delete", Access: AccessRead | AccessWrite | AccessDelete, Reserved: true},
}

var shareModes = [...]ShareMode{
	{Name: "none", Share: ShareNone},
	{Name: "read", Share: ShareRead},
	{Name: "write", Share: ShareWrite},
	{Name: "delete", Share: ShareDelete},
	{Name: "read-write", Share: ShareRead | ShareWrite},
	{Name: "read-delete", Share: ShareRead | ShareDelete},
	{Name: "write-delete", Share: ShareWrite | ShareDelete},
	{Name: "read-write-delete", Share: ShareAll},
}

// AccessModes returns a copy of the access registry, reserved entries
// included.
func AccessModes() []AccessMode {
	out := make([]AccessMode, len(accessModes))
	copy(out, accessModes[:])

	return out
}

// DefaultAccessModes returns the non-reserved access modes in registry
// order: read, write, read-write.
func DefaultAccessModes() []AccessMode {
	out := make([]AccessMode, 0, len(accessModes))

	for _, m := range accessModes {
		if !m.Reserved {
			out = append(out, m)
		}
	}

	return out
}

// ShareModes returns a copy of the share registry.
func ShareModes() []ShareMode {
	out := make([]ShareMode, len(shareModes))
	copy(out, shareModes[:])

	return out
}

// ParseAccess resolves an access mode by registry name.
func ParseAccess(name string) (AccessMode, error) {
	for _, m := range accessModes {
		if m.Name == strings.ToLower(strings.TrimSpace(name)) {
			return m, nil
		}
	}

	return AccessMode{}, fmt.Errorf("%w: access %q", ErrUnknownMode, name)
}

// ParseShare resolves a share mode by registry name.
func ParseShare(name string) (ShareMode, error) {
	for _, m := range shareModes {
		if m.Name == strings.ToLower(strings.TrimSpace(name)) {
			return m, nil
		}
	}

	return ShareMode{}, fmt.Errorf("%w: share %q", ErrUnknownMode, name)
}

// ShareModel names the sharing rules a backend enforces between two
// handles to the same file.
type ShareModel int

const (
	// ShareModelNone enforces nothing; every pair of opens succeeds.
	ShareModelNone ShareModel = iota
	// ShareModelNT is the documented Windows negotiation: each handle's
	// share mode must permit the other handle's access.
	ShareModelNT
	// ShareModelExclusive only refuses pairs where either handle asked
	// for no sharing. This is what flock(2) can express.
	ShareModelExclusive
)

func (m ShareModel) String() string {
	switch m {
	case ShareModelNone:
		return "none"
	case ShareModelNT:
		return "nt"
	case ShareModelExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Permits reports whether a second open is expected to succeed while a
// handle opened with first is still open.
func (m ShareModel) Permits(first, second OpenOptions) bool {
	switch m {
	case ShareModelNT:
		return sharePermits(first.Share, second.Access) && sharePermits(second.Share, first.Access)
	case ShareModelExclusive:
		return first.Share != ShareNone && second.Share != ShareNone
	default:
		return true
	}
}

// sharePermits reports whether a handle shared as s tolerates another
// handle asking for access a.
func sharePermits(s Share, a Access) bool {
	if a.Has(AccessRead) && !s.Has(ShareRead) {
		return false
	}

	if a.Has(AccessWrite) && !s.Has(ShareWrite) {
		return false
	}

	if a.Has(AccessDelete) && !s.Has(ShareDelete) {
		return false
	}

	return true
}
