package build

import (
	"os"
	"os/user"
	"strconv"
)

// UserIdentity is baked into every image so files created during builds end up
// owned by the invoking user rather than root.
type UserIdentity struct {
	UID  int
	GID  int
	Name string
}

// Arguments returns the identity as build arguments.
func (id UserIdentity) Arguments() Arguments {
	return Arguments{
		"USER_UID": strconv.Itoa(id.UID),
		"USER_GID": strconv.Itoa(id.GID),
		"USERNAME": id.Name,
	}
}

// IdentitySource reports the identity of the invoking user.
type IdentitySource interface {
	Identity() (UserIdentity, error)
}

// OSIdentitySource reads the identity of the current process.
type OSIdentitySource struct{}

var _ IdentitySource = OSIdentitySource{}

func (OSIdentitySource) Identity() (UserIdentity, error) {
	id := UserIdentity{
		UID: os.Getuid(),
		GID: os.Getgid(),
	}

	if current, err := user.Current(); err == nil && current.Username != "" {
		id.Name = current.Username
	} else if name := os.Getenv("USER"); name != "" {
		id.Name = name
	} else if name := os.Getenv("LOGNAME"); name != "" {
		id.Name = name
	}
	return id, nil
}

// ResolveIdentity queries src and falls back to root's identity for any field
// that cannot be determined. A nil src queries the current process.
func ResolveIdentity(src IdentitySource) UserIdentity {
	if src == nil {
		src = OSIdentitySource{}
	}

	id, err := src.Identity()
	if err != nil {
		return UserIdentity{UID: 0, GID: 0, Name: "root"}
	}
	if id.UID < 0 {
		id.UID = 0
	}
	if id.GID < 0 {
		id.GID = 0
	}
	if id.Name == "" {
		id.Name = "root"
	}
	return id
}
