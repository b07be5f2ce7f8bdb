package app

import "filedepot/internal/domain"

// CanAccess reports whether a user may read or delete a file record. Admins
// reach everything; everyone else only their own files.
func CanAccess(u domain.User, f domain.FileRecord) bool {
	if u.IsAdmin() {
		return true
	}
	return f.OwnerEmail == u.Email
}
