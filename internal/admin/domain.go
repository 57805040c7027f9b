// Package admin exposes the grant-editing endpoints. Every mutation
// here bumps the settings watermark; nothing else invalidates the
// permission caches.
package admin

import "errors"

// ErrDuplicateGrant indicates the grant row already exists.
var ErrDuplicateGrant = errors.New("admin: grant already exists")

// Grant is one editable grant row. ProfileID zero means global scope.
type Grant struct {
	GroupID    int64  `json:"group_id" validate:"required"`
	Permission string `json:"permission" validate:"required,min=2,max=64"`
	IsDeny     bool   `json:"is_deny"`
	ProfileID  int64  `json:"profile_id" validate:"gte=0"`
}
