package rbac

import (
	"fmt"
	"strings"
	"time"
)

// ResourceType classifies a protected resource
type ResourceType string

const (
	ResourceMenu        ResourceType = "MENU"
	ResourceUIComponent ResourceType = "UI_COMPONENT"
	ResourcePageSection ResourceType = "PAGE_SECTION"
	ResourceAPI         ResourceType = "API"
)

// ResourceTypes lists every resource type in lookup order
var ResourceTypes = []ResourceType{ResourceMenu, ResourceUIComponent, ResourcePageSection, ResourceAPI}

// Valid reports whether t is a known resource type
func (t ResourceType) Valid() bool {
	for _, known := range ResourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// PermissionCode names an entry of the global permission catalog
type PermissionCode string

const (
	PermissionView    PermissionCode = "VIEW"
	PermissionUse     PermissionCode = "USE"
	PermissionEdit    PermissionCode = "EDIT"
	PermissionApprove PermissionCode = "APPROVE"
	PermissionExecute PermissionCode = "EXECUTE"
)

// BuiltInPermissions is the seeded catalog with its sort order
var BuiltInPermissions = []Permission{
	{Code: PermissionView, SortOrder: 10},
	{Code: PermissionUse, SortOrder: 20},
	{Code: PermissionEdit, SortOrder: 30},
	{Code: PermissionApprove, SortOrder: 40},
	{Code: PermissionExecute, SortOrder: 50},
}

// Valid reports whether c is in the built-in catalog
func (c PermissionCode) Valid() bool {
	for _, p := range BuiltInPermissions {
		if p.Code == c {
			return true
		}
	}
	return false
}

// Effect is the outcome attached to a grant
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Valid reports whether e is ALLOW or DENY
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// EffectPtr returns a pointer to e, for batch items
func EffectPtr(e Effect) *Effect {
	return &e
}

// Resource is a protected thing: a menu entry, a UI component, a page section or an API.
// TenantID is nil for global resources.
type Resource struct {
	ID               int64        `json:"id"`
	TenantID         *int64       `json:"tenant_id,omitempty"`
	Type             ResourceType `json:"type"`
	Key              string       `json:"key"`
	Name             string       `json:"name"`
	ParentResourceID *int64       `json:"parent_resource_id,omitempty"`
	Enabled          bool         `json:"enabled"`
}

// Permission is an entry of the global permission catalog
type Permission struct {
	ID        int64          `json:"id"`
	Code      PermissionCode `json:"code"`
	SortOrder int            `json:"sort_order"`
}

// Role is a tenant-scoped named bundle of grants
type Role struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SubjectType is the persisted discriminator of a Subject
type SubjectType string

const (
	SubjectUser       SubjectType = "USER"
	SubjectDepartment SubjectType = "DEPARTMENT"
)

// Subject is who a role is granted to: a UserSubject or a DepartmentSubject
type Subject interface {
	SubjectType() SubjectType
	SubjectID() int64
	String() string
	isSubject()
}

// UserSubject grants a role to a single user
type UserSubject struct {
	UserID int64
}

func (s UserSubject) SubjectType() SubjectType { return SubjectUser }
func (s UserSubject) SubjectID() int64         { return s.UserID }
func (s UserSubject) String() string           { return fmt.Sprintf("USER(%d)", s.UserID) }
func (UserSubject) isSubject()                 {}

// DepartmentSubject grants a role to every user whose primary department is DepartmentID
type DepartmentSubject struct {
	DepartmentID int64
}

func (s DepartmentSubject) SubjectType() SubjectType { return SubjectDepartment }
func (s DepartmentSubject) SubjectID() int64         { return s.DepartmentID }
func (s DepartmentSubject) String() string           { return fmt.Sprintf("DEPARTMENT(%d)", s.DepartmentID) }
func (DepartmentSubject) isSubject()                 {}

// NewSubject maps a persisted discriminator and ID to a Subject
func NewSubject(t SubjectType, id int64) (Subject, error) {
	switch SubjectType(strings.ToUpper(string(t))) {
	case SubjectUser:
		return UserSubject{UserID: id}, nil
	case SubjectDepartment:
		return DepartmentSubject{DepartmentID: id}, nil
	default:
		return nil, fmt.Errorf("unknown subject type %q", t)
	}
}

// RoleMember binds a role to a subject
type RoleMember struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	RoleID    int64     `json:"role_id"`
	Subject   Subject   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// RolePermission is a persisted grant. Effect is never empty while the row exists.
type RolePermission struct {
	ID           int64  `json:"id"`
	TenantID     int64  `json:"tenant_id"`
	RoleID       int64  `json:"role_id"`
	ResourceID   int64  `json:"resource_id"`
	PermissionID int64  `json:"permission_id"`
	Effect       Effect `json:"effect"`
}

// RolePermissionView is a RolePermission joined with its resource key and permission code
type RolePermissionView struct {
	RolePermission
	ResourceKey    string         `json:"resource_key"`
	ResourceType   ResourceType   `json:"resource_type"`
	PermissionCode PermissionCode `json:"permission_code"`
}

// Grant is one effective RolePermission row on an enabled resource
type Grant struct {
	RoleID         int64
	ResourceKey    string
	ResourceType   ResourceType
	PermissionCode PermissionCode
	Effect         Effect
}

// Menu is navigation metadata; MenuKey mirrors a MENU resource key.
// A menu row never grants access by itself.
type Menu struct {
	ID            int64  `json:"id"`
	MenuKey       string `json:"menu_key"`
	ParentMenuKey string `json:"parent_menu_key,omitempty"`
	Name          string `json:"name"`
	Path          string `json:"path,omitempty"`
	Icon          string `json:"icon,omitempty"`
	MenuGroup     string `json:"menu_group,omitempty"`
	SortOrder     int    `json:"sort_order"`
	Depth         int    `json:"depth"`
	Visible       bool   `json:"visible"`
	Enabled       bool   `json:"enabled"`
}

// User is the slice of a user record the engine reads
type User struct {
	ID                  int64  `json:"id"`
	TenantID            int64  `json:"tenant_id"`
	Username            string `json:"username"`
	PrimaryDepartmentID *int64 `json:"primary_department_id,omitempty"`
}

// Department is the slice of a department record the engine reads
type Department struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
}

// DefaultAdminRoleCode is the role code treated as administrator unless configured otherwise
const DefaultAdminRoleCode = "ADMIN"
