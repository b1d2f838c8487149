package core

// ServerInstance is the root of the in-memory state the snapshot persists:
// every database, its metadata, and the cluster's users and roles.
type ServerInstance struct {
	Databases        map[string]*Database
	DatabaseMetadata map[string]*DatabaseMetadata
	Users            map[string]*User
	Roles            map[string]*Role
}

// DefaultSuperuser is created when a fresh instance is initialized.
const DefaultSuperuser = "postgres"

// NewServerInstance builds an empty instance.
func NewServerInstance() *ServerInstance {
	return &ServerInstance{
		Databases:        make(map[string]*Database),
		DatabaseMetadata: make(map[string]*DatabaseMetadata),
		Users:            make(map[string]*User),
		Roles:            make(map[string]*Role),
	}
}

// Initialize seeds a fresh instance with the superuser and its default
// database. Idempotent: an instance loaded from a snapshot keeps its state.
func (si *ServerInstance) Initialize(superuserPassword string) {
	if _, ok := si.Users[DefaultSuperuser]; !ok {
		si.Users[DefaultSuperuser] = NewUser(DefaultSuperuser, superuserPassword, true)
	}
	if _, ok := si.Databases[DefaultSuperuser]; !ok {
		si.Databases[DefaultSuperuser] = NewDatabase(DefaultSuperuser)
		si.DatabaseMetadata[DefaultSuperuser] = NewDatabaseMetadata(DefaultSuperuser, DefaultSuperuser)
	}
}

// Authenticate verifies username/password against the user table.
func (si *ServerInstance) Authenticate(username, password string) bool {
	u, ok := si.Users[username]
	return ok && u.VerifyPassword(password)
}

// CreateUser registers a new user.
func (si *ServerInstance) CreateUser(username, password string, superuser bool) error {
	if _, ok := si.Users[username]; ok {
		return UserAlreadyExists(username)
	}
	si.Users[username] = NewUser(username, password, superuser)
	return nil
}

// DropUser removes a user and its role memberships.
func (si *ServerInstance) DropUser(username string) error {
	if _, ok := si.Users[username]; !ok {
		return UserNotFound(username)
	}
	delete(si.Users, username)
	for _, role := range si.Roles {
		role.RemoveMember(username)
	}
	return nil
}

// User returns the named user, or an error.
func (si *ServerInstance) User(username string) (*User, error) {
	if u, ok := si.Users[username]; ok {
		return u, nil
	}
	return nil, UserNotFound(username)
}

// CreateDatabase registers a database owned by owner.
func (si *ServerInstance) CreateDatabase(name, owner string) error {
	if _, ok := si.Databases[name]; ok {
		return DatabaseAlreadyExists(name)
	}
	if _, ok := si.Users[owner]; !ok {
		return UserNotFound(owner)
	}
	si.Databases[name] = NewDatabase(name)
	si.DatabaseMetadata[name] = NewDatabaseMetadata(name, owner)
	return nil
}

// DropDatabase removes a database and its metadata.
func (si *ServerInstance) DropDatabase(name string) error {
	if _, ok := si.Databases[name]; !ok {
		return DatabaseNotFound(name)
	}
	delete(si.Databases, name)
	delete(si.DatabaseMetadata, name)
	return nil
}

// Database returns the named database, or an error.
func (si *ServerInstance) Database(name string) (*Database, error) {
	if db, ok := si.Databases[name]; ok {
		return db, nil
	}
	return nil, DatabaseNotFound(name)
}

// CreateRole registers an empty role.
func (si *ServerInstance) CreateRole(name string) error {
	if _, ok := si.Roles[name]; ok {
		return RoleAlreadyExists(name)
	}
	si.Roles[name] = NewRole(name)
	return nil
}

// DropRole removes a role, scrubbing memberships and parent links.
func (si *ServerInstance) DropRole(name string) error {
	if _, ok := si.Roles[name]; !ok {
		return RoleNotFound(name)
	}
	delete(si.Roles, name)
	for _, u := range si.Users {
		u.RemoveRole(name)
	}
	for _, r := range si.Roles {
		delete(r.Parents, name)
	}
	return nil
}

// GrantRoleToUser records membership both ways (user side and role side).
func (si *ServerInstance) GrantRoleToUser(roleName, username string) error {
	role, ok := si.Roles[roleName]
	if !ok {
		return RoleNotFound(roleName)
	}
	user, ok := si.Users[username]
	if !ok {
		return UserNotFound(username)
	}
	role.AddMember(username)
	user.AddRole(roleName)
	return nil
}

// RevokeRoleFromUser removes the membership.
func (si *ServerInstance) RevokeRoleFromUser(roleName, username string) error {
	role, ok := si.Roles[roleName]
	if !ok {
		return RoleNotFound(roleName)
	}
	user, ok := si.Users[username]
	if !ok {
		return UserNotFound(username)
	}
	role.RemoveMember(username)
	user.RemoveRole(roleName)
	return nil
}

// UserRoles returns every role username holds, directly or through role
// inheritance (parents of parents, DAG traversal).
func (si *ServerInstance) UserRoles(username string) map[string]bool {
	collected := make(map[string]bool)
	u, ok := si.Users[username]
	if !ok {
		return collected
	}
	for role := range u.Roles {
		si.collectRoles(role, collected)
	}
	return collected
}

func (si *ServerInstance) collectRoles(roleName string, collected map[string]bool) {
	if collected[roleName] {
		return
	}
	role, ok := si.Roles[roleName]
	if !ok {
		return
	}
	collected[roleName] = true
	for parent := range role.Parents {
		si.collectRoles(parent, collected)
	}
}

// CheckDatabasePrivilege reports whether username may exercise p on db,
// either directly, via the superuser flag, or through any held role.
func (si *ServerInstance) CheckDatabasePrivilege(username, dbName string, p Privilege) (bool, error) {
	u, ok := si.Users[username]
	if !ok {
		return false, UserNotFound(username)
	}
	if u.IsSuperuser {
		return true, nil
	}
	meta, ok := si.DatabaseMetadata[dbName]
	if !ok {
		return false, DatabaseNotFound(dbName)
	}
	if meta.Owner == username || meta.HasPrivilege(username, p) {
		return true, nil
	}
	for role := range si.UserRoles(username) {
		if meta.HasPrivilege(role, p) {
			return true, nil
		}
	}
	return false, nil
}

// CheckTablePrivilege reports whether username may exercise p on a table.
func (si *ServerInstance) CheckTablePrivilege(username, dbName, tableName string, p Privilege) (bool, error) {
	u, ok := si.Users[username]
	if !ok {
		return false, UserNotFound(username)
	}
	if u.IsSuperuser {
		return true, nil
	}
	db, ok := si.Databases[dbName]
	if !ok {
		return false, DatabaseNotFound(dbName)
	}
	meta, ok := db.TableMetadata[tableName]
	if !ok {
		return false, TableNotFound(tableName)
	}
	if meta.IsOwner(username) || meta.HasPrivilege(username, p) {
		return true, nil
	}
	for role := range si.UserRoles(username) {
		if meta.HasPrivilege(role, p) {
			return true, nil
		}
	}
	return false, nil
}

// IsTableOwnerOrSuperuser reports ownership-level control over a table.
func (si *ServerInstance) IsTableOwnerOrSuperuser(username, dbName, tableName string) bool {
	u, ok := si.Users[username]
	if !ok {
		return false
	}
	if u.IsSuperuser {
		return true
	}
	db, ok := si.Databases[dbName]
	if !ok {
		return false
	}
	meta, ok := db.TableMetadata[tableName]
	return ok && meta.IsOwner(username)
}
