// Package privdrop switches the process to an unprivileged user/group
// after a collector has bound its socket, before it enters the
// accept/read loop. There is no suitable third-party library for POSIX
// privilege drop in the retrieved corpus; this is implemented directly
// against os/user and syscall (see DESIGN.md).
package privdrop

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// Drop resolves userName/groupName (either may be empty) and switches
// the process's gid then uid, in that order -- group must be dropped
// first or the process loses the permission to change it.
func Drop(userName, groupName string) error {
	var uid, gid int = -1, -1

	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("invalid gid for group %q: %w", groupName, err)
		}
	}

	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return fmt.Errorf("lookup user %q: %w", userName, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("invalid uid for user %q: %w", userName, err)
		}
		if gid == -1 {
			gid, err = strconv.Atoi(u.Gid)
			if err != nil {
				return fmt.Errorf("invalid gid for user %q: %w", userName, err)
			}
		}
	}

	if gid != -1 {
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
	}
	if uid != -1 {
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}
	return nil
}
