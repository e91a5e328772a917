package utils

import (
	"os"
	"os/user"
	"strconv"
)

// FixFileOwnership changes file/directory ownership to the invoking user when running under sudo.
// Returns nil if not running under sudo or if the user cannot be resolved.
func FixFileOwnership(path string) error {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return nil
	}

	u, err := user.Lookup(sudoUser)
	if err != nil {
		return nil
	}

	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)

	return os.Chown(path, uid, gid)
}
