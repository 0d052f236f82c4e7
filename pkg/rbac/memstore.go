package rbac

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store that enforces the same unique and
// reference constraints as the Postgres schema. Transactions are serialized
// and rolled back by snapshot; reads outside a transaction may observe
// uncommitted writes.
type MemoryStore struct {
	st   *memState
	inTx bool
}

type memState struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	nextID      int64
	departments map[int64]Department
	users       map[int64]User
	resources   map[int64]Resource
	permissions map[int64]Permission
	roles       map[int64]Role
	members     map[int64]RoleMember
	grants      map[int64]RolePermission
	menus       map[int64]Menu
}

// NewMemoryStore creates an empty store with the built-in permission catalog
func NewMemoryStore() *MemoryStore {
	st := &memState{
		departments: make(map[int64]Department),
		users:       make(map[int64]User),
		resources:   make(map[int64]Resource),
		permissions: make(map[int64]Permission),
		roles:       make(map[int64]Role),
		members:     make(map[int64]RoleMember),
		grants:      make(map[int64]RolePermission),
		menus:       make(map[int64]Menu),
	}
	for _, p := range BuiltInPermissions {
		st.nextID++
		p.ID = st.nextID
		st.permissions[p.ID] = p
	}
	return &MemoryStore{st: st}
}

func (st *memState) id() int64 {
	st.nextID++
	return st.nextID
}

func (st *memState) snapshot() *memState {
	return &memState{
		nextID:      st.nextID,
		departments: maps.Clone(st.departments),
		users:       maps.Clone(st.users),
		resources:   maps.Clone(st.resources),
		permissions: maps.Clone(st.permissions),
		roles:       maps.Clone(st.roles),
		members:     maps.Clone(st.members),
		grants:      maps.Clone(st.grants),
		menus:       maps.Clone(st.menus),
	}
}

func (st *memState) restore(snap *memState) {
	st.nextID = snap.nextID
	st.departments = snap.departments
	st.users = snap.users
	st.resources = snap.resources
	st.permissions = snap.permissions
	st.roles = snap.roles
	st.members = snap.members
	st.grants = snap.grants
	st.menus = snap.menus
}

// RunInTx serializes fn against other transactions and rolls back its writes on error
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	s.st.mu.RLock()
	snap := s.st.snapshot()
	s.st.mu.RUnlock()

	if err := fn(&MemoryStore{st: s.st, inTx: true}); err != nil {
		s.st.mu.Lock()
		s.st.restore(snap)
		s.st.mu.Unlock()
		return err
	}
	return nil
}

// AddDepartment seeds a department and returns its ID
func (s *MemoryStore) AddDepartment(tenantID int64, name string) int64 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	id := s.st.id()
	s.st.departments[id] = Department{ID: id, TenantID: tenantID, Name: name}
	return id
}

// AddUser seeds a user and returns its ID; departmentID may be nil
func (s *MemoryStore) AddUser(tenantID int64, username string, departmentID *int64) int64 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	id := s.st.id()
	s.st.users[id] = User{ID: id, TenantID: tenantID, Username: username, PrimaryDepartmentID: departmentID}
	return id
}

// AddResource seeds a resource and returns its ID
func (s *MemoryStore) AddResource(res Resource) int64 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	res.ID = s.st.id()
	s.st.resources[res.ID] = res
	return res.ID
}

// SetResourceEnabled soft-enables or disables a resource
func (s *MemoryStore) SetResourceEnabled(resourceID int64, enabled bool) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if res, ok := s.st.resources[resourceID]; ok {
		res.Enabled = enabled
		s.st.resources[resourceID] = res
	}
}

// AddMenu seeds a menu row and returns its ID
func (s *MemoryStore) AddMenu(menu Menu) int64 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	menu.ID = s.st.id()
	s.st.menus[menu.ID] = menu
	return menu.ID
}

func (s *MemoryStore) GetUser(ctx context.Context, tenantID, userID int64) (*User, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	user, ok := s.st.users[userID]
	if !ok || user.TenantID != tenantID {
		return nil, newError(ErrNotFound, "get user", strconv.FormatInt(userID, 10), "")
	}
	return &user, nil
}

func (s *MemoryStore) GetDepartment(ctx context.Context, tenantID, departmentID int64) (*Department, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	dept, ok := s.st.departments[departmentID]
	if !ok || dept.TenantID != tenantID {
		return nil, newError(ErrNotFound, "get department", strconv.FormatInt(departmentID, 10), "")
	}
	return &dept, nil
}

func (s *MemoryStore) ListUserIDsByDepartment(ctx context.Context, tenantID, departmentID int64) ([]int64, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var ids []int64
	for _, u := range s.st.users {
		if u.TenantID == tenantID && u.PrimaryDepartmentID != nil && *u.PrimaryDepartmentID == departmentID {
			ids = append(ids, u.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) SetPrimaryDepartment(ctx context.Context, tenantID, userID int64, departmentID *int64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	user, ok := s.st.users[userID]
	if !ok || user.TenantID != tenantID {
		return newError(ErrNotFound, "set primary department", strconv.FormatInt(userID, 10), "")
	}
	if departmentID != nil {
		id := *departmentID
		user.PrimaryDepartmentID = &id
	} else {
		user.PrimaryDepartmentID = nil
	}
	s.st.users[userID] = user
	return nil
}

func (s *MemoryStore) GetResourceByKey(ctx context.Context, tenantID int64, key string) (*Resource, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var global *Resource
	for _, id := range sortedKeys(s.st.resources) {
		res := s.st.resources[id]
		if res.Key != key {
			continue
		}
		if res.TenantID != nil && *res.TenantID == tenantID {
			return &res, nil
		}
		if res.TenantID == nil && global == nil {
			global = &res
		}
	}
	if global == nil {
		return nil, newError(ErrNotFound, "get resource", key, "")
	}
	return global, nil
}

func (s *MemoryStore) GetPermissionByCode(ctx context.Context, code PermissionCode) (*Permission, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	for _, p := range s.st.permissions {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, newError(ErrNotFound, "get permission", string(code), "")
}

func (s *MemoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	perms := slices.Collect(maps.Values(s.st.permissions))
	sort.Slice(perms, func(i, j int) bool { return perms[i].SortOrder < perms[j].SortOrder })
	return perms, nil
}

func (s *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, r := range s.st.roles {
		if r.TenantID == role.TenantID && r.Code == role.Code {
			return newError(ErrConflict, "create role", role.Code, "already exists")
		}
	}
	now := time.Now()
	role.ID = s.st.id()
	role.CreatedAt = now
	role.UpdatedAt = now
	s.st.roles[role.ID] = *role
	return nil
}

func (s *MemoryStore) GetRole(ctx context.Context, tenantID, roleID int64) (*Role, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	role, ok := s.st.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return nil, newError(ErrNotFound, "get role", strconv.FormatInt(roleID, 10), "")
	}
	return &role, nil
}

func (s *MemoryStore) GetRoleByCode(ctx context.Context, tenantID int64, code string) (*Role, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	for _, r := range s.st.roles {
		if r.TenantID == tenantID && r.Code == code {
			return &r, nil
		}
	}
	return nil, newError(ErrNotFound, "get role", code, "")
}

func (s *MemoryStore) GetRolesByIDs(ctx context.Context, tenantID int64, roleIDs []int64) ([]Role, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var roles []Role
	for _, id := range roleIDs {
		if r, ok := s.st.roles[id]; ok && r.TenantID == tenantID {
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (s *MemoryStore) ListRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var roles []Role
	for _, r := range s.st.roles {
		if r.TenantID == tenantID {
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Code < roles[j].Code })
	return roles, nil
}

// LockRole is GetRole; transactions are already serialized
func (s *MemoryStore) LockRole(ctx context.Context, tenantID, roleID int64) (*Role, error) {
	return s.GetRole(ctx, tenantID, roleID)
}

func (s *MemoryStore) CountRoleReferences(ctx context.Context, tenantID, roleID int64) (int, int, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	return s.st.countRefs(tenantID, roleID)
}

func (st *memState) countRefs(tenantID, roleID int64) (int, int, error) {
	var members, permissions int
	for _, m := range st.members {
		if m.TenantID == tenantID && m.RoleID == roleID {
			members++
		}
	}
	for _, g := range st.grants {
		if g.TenantID == tenantID && g.RoleID == roleID {
			permissions++
		}
	}
	return members, permissions, nil
}

func (s *MemoryStore) DeleteRole(ctx context.Context, tenantID, roleID int64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	role, ok := s.st.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return newError(ErrNotFound, "delete role", strconv.FormatInt(roleID, 10), "")
	}
	if members, perms, _ := s.st.countRefs(tenantID, roleID); members+perms > 0 {
		return newError(ErrConflict, "delete role", role.Code, "still referenced")
	}
	delete(s.st.roles, roleID)
	return nil
}

func (s *MemoryStore) AddRoleMember(ctx context.Context, member *RoleMember) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if role, ok := s.st.roles[member.RoleID]; !ok || role.TenantID != member.TenantID {
		return newError(ErrNotFound, "add role member", strconv.FormatInt(member.RoleID, 10), "role does not exist")
	}
	for _, m := range s.st.members {
		if m.TenantID == member.TenantID && m.RoleID == member.RoleID && sameSubject(m.Subject, member.Subject) {
			return newError(ErrConflict, "add role member", member.Subject.String(), "already exists")
		}
	}
	member.ID = s.st.id()
	member.CreatedAt = time.Now()
	s.st.members[member.ID] = *member
	return nil
}

func (s *MemoryStore) RemoveRoleMember(ctx context.Context, tenantID, roleID int64, subject Subject) (bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for id, m := range s.st.members {
		if m.TenantID == tenantID && m.RoleID == roleID && sameSubject(m.Subject, subject) {
			delete(s.st.members, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListRoleMembers(ctx context.Context, tenantID, roleID int64) ([]RoleMember, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var members []RoleMember
	for _, m := range s.st.members {
		if m.TenantID == tenantID && m.RoleID == roleID {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i].Subject, members[j].Subject
		if a.SubjectType() != b.SubjectType() {
			return a.SubjectType() < b.SubjectType()
		}
		return a.SubjectID() < b.SubjectID()
	})
	return members, nil
}

func (s *MemoryStore) ListRoleIDsForSubject(ctx context.Context, tenantID int64, subject Subject) ([]int64, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var ids []int64
	for _, m := range s.st.members {
		if m.TenantID == tenantID && sameSubject(m.Subject, subject) {
			ids = append(ids, m.RoleID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) ListRolePermissions(ctx context.Context, tenantID, roleID int64) ([]RolePermissionView, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var views []RolePermissionView
	for _, g := range s.st.grants {
		if g.TenantID != tenantID || g.RoleID != roleID {
			continue
		}
		res := s.st.resources[g.ResourceID]
		perm := s.st.permissions[g.PermissionID]
		views = append(views, RolePermissionView{
			RolePermission: g,
			ResourceKey:    res.Key,
			ResourceType:   res.Type,
			PermissionCode: perm.Code,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].ResourceKey != views[j].ResourceKey {
			return views[i].ResourceKey < views[j].ResourceKey
		}
		return s.st.permissions[views[i].PermissionID].SortOrder < s.st.permissions[views[j].PermissionID].SortOrder
	})
	return views, nil
}

func (s *MemoryStore) UpsertRolePermission(ctx context.Context, rp *RolePermission) error {
	if !rp.Effect.Valid() {
		return newError(ErrInvalidInput, "upsert role permission", string(rp.Effect), "effect must be ALLOW or DENY")
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.roles[rp.RoleID]; !ok {
		return newError(ErrNotFound, "upsert role permission", strconv.FormatInt(rp.RoleID, 10), "role does not exist")
	}
	for id, g := range s.st.grants {
		if g.TenantID == rp.TenantID && g.RoleID == rp.RoleID && g.ResourceID == rp.ResourceID && g.PermissionID == rp.PermissionID {
			g.Effect = rp.Effect
			s.st.grants[id] = g
			rp.ID = id
			return nil
		}
	}
	rp.ID = s.st.id()
	s.st.grants[rp.ID] = *rp
	return nil
}

func (s *MemoryStore) DeleteRolePermission(ctx context.Context, tenantID, roleID, resourceID, permissionID int64) (bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for id, g := range s.st.grants {
		if g.TenantID == tenantID && g.RoleID == roleID && g.ResourceID == resourceID && g.PermissionID == permissionID {
			delete(s.st.grants, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, tenantID int64, roleIDs []int64) ([]Grant, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var grants []Grant
	for _, id := range sortedKeys(s.st.grants) {
		g := s.st.grants[id]
		if g.TenantID != tenantID || !slices.Contains(roleIDs, g.RoleID) {
			continue
		}
		res, ok := s.st.resources[g.ResourceID]
		if !ok || !res.Enabled || (res.TenantID != nil && *res.TenantID != tenantID) {
			continue
		}
		grants = append(grants, Grant{
			RoleID:         g.RoleID,
			ResourceKey:    res.Key,
			ResourceType:   res.Type,
			PermissionCode: s.st.permissions[g.PermissionID].Code,
			Effect:         g.Effect,
		})
	}
	return grants, nil
}

func (s *MemoryStore) ListMenus(ctx context.Context) ([]Menu, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var menus []Menu
	for _, id := range sortedKeys(s.st.menus) {
		if m := s.st.menus[id]; m.Enabled && m.Visible {
			menus = append(menus, m)
		}
	}
	return menus, nil
}

func sameSubject(a, b Subject) bool {
	return a.SubjectType() == b.SubjectType() && a.SubjectID() == b.SubjectID()
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
