package server

import (
	"fmt"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/engine"
	"go.uber.org/zap"
)

// handleAdmin dispatches user/role/database/privilege administration at the
// server level. After any mutation that changes the on-disk server state, a
// snapshot is persisted.
func (sess *session) handleAdmin(stmt engine.Statement) (*engine.Result, error) {
	sess.srv.mu.Lock()
	defer sess.srv.mu.Unlock()

	instance := sess.srv.cluster.Instance
	actor, err := instance.User(sess.username)
	if err != nil {
		return nil, err
	}

	var res *engine.Result
	switch s := stmt.(type) {
	case *engine.CreateUserStmt:
		if !actor.IsSuperuser && !actor.CanCreateUser {
			return nil, core.PermissionDenied("CREATE USER requires CREATEROLE")
		}
		if err := instance.CreateUser(s.Name, s.Password, s.Superuser); err != nil {
			return nil, err
		}
		res = &engine.Result{Tag: "CREATE USER"}

	case *engine.AlterUserStmt:
		if !actor.IsSuperuser && actor.Username != s.Name {
			return nil, core.PermissionDenied("ALTER USER requires superuser or self")
		}
		u, err := instance.User(s.Name)
		if err != nil {
			return nil, err
		}
		u.SetPassword(s.Password)
		res = &engine.Result{Tag: "ALTER USER"}

	case *engine.DropUserStmt:
		if !actor.IsSuperuser && !actor.CanCreateUser {
			return nil, core.PermissionDenied("DROP USER requires CREATEROLE")
		}
		if s.Name == sess.username {
			return nil, core.PermissionDenied("cannot drop the current user")
		}
		if err := instance.DropUser(s.Name); err != nil {
			return nil, err
		}
		res = &engine.Result{Tag: "DROP USER"}

	case *engine.CreateRoleStmt:
		if !actor.IsSuperuser && !actor.CanCreateUser {
			return nil, core.PermissionDenied("CREATE ROLE requires CREATEROLE")
		}
		if err := instance.CreateRole(s.Name); err != nil {
			return nil, err
		}
		res = &engine.Result{Tag: "CREATE ROLE"}

	case *engine.DropRoleStmt:
		if !actor.IsSuperuser && !actor.CanCreateUser {
			return nil, core.PermissionDenied("DROP ROLE requires CREATEROLE")
		}
		if err := instance.DropRole(s.Name); err != nil {
			return nil, err
		}
		res = &engine.Result{Tag: "DROP ROLE"}

	case *engine.CreateDatabaseStmt:
		if !actor.IsSuperuser && !actor.CanCreateDB {
			return nil, core.PermissionDenied("CREATE DATABASE requires CREATEDB")
		}
		owner := s.Owner
		if owner == "" {
			owner = sess.username
		}
		if err := instance.CreateDatabase(s.Name, owner); err != nil {
			return nil, err
		}
		res = &engine.Result{Tag: "CREATE DATABASE"}

	case *engine.DropDatabaseStmt:
		if !actor.IsSuperuser {
			if meta, ok := instance.DatabaseMetadata[s.Name]; !ok || meta.Owner != sess.username {
				return nil, core.PermissionDenied("DROP DATABASE requires superuser or owner")
			}
		}
		if s.Name == sess.dbName {
			return nil, core.PermissionDenied("cannot drop the currently open database")
		}
		if err := instance.DropDatabase(s.Name); err != nil {
			return nil, err
		}
		res = &engine.Result{Tag: "DROP DATABASE"}

	case *engine.GrantStmt:
		r, err := sess.applyGrantRevoke(instance, actor, s.Privileges, s.Database, s.Table, s.Grantee, s.Role, true)
		if err != nil {
			return nil, err
		}
		res = r

	case *engine.RevokeStmt:
		r, err := sess.applyGrantRevoke(instance, actor, s.Privileges, s.Database, s.Table, s.Grantee, s.Role, false)
		if err != nil {
			return nil, err
		}
		res = r

	default:
		return nil, core.ParseError(fmt.Sprintf("unhandled admin statement %T", stmt))
	}

	if err := sess.srv.cluster.SaveSnapshot(); err != nil {
		sess.srv.log.Error("snapshot after admin statement failed", zap.Error(err))
	}
	return res, nil
}

// applyGrantRevoke covers database privileges, table privileges, and role
// memberships.
func (sess *session) applyGrantRevoke(instance *core.ServerInstance, actor *core.User,
	privs []core.Privilege, database, table, grantee, role string, grant bool) (*engine.Result, error) {

	tag := "GRANT"
	if !grant {
		tag = "REVOKE"
	}

	// GRANT role TO user / REVOKE role FROM user.
	if role != "" {
		if !actor.IsSuperuser && !actor.CanCreateUser {
			return nil, core.PermissionDenied(tag + " role requires CREATEROLE")
		}
		var err error
		if grant {
			err = instance.GrantRoleToUser(role, grantee)
		} else {
			err = instance.RevokeRoleFromUser(role, grantee)
		}
		if err != nil {
			return nil, err
		}
		return &engine.Result{Tag: tag + " ROLE"}, nil
	}

	if _, err := instance.User(grantee); err != nil {
		if _, rerr := roleLookup(instance, grantee); rerr != nil {
			return nil, err
		}
	}

	if database != "" {
		meta, ok := instance.DatabaseMetadata[database]
		if !ok {
			return nil, core.DatabaseNotFound(database)
		}
		if !actor.IsSuperuser && meta.Owner != actor.Username {
			return nil, core.PermissionDenied(tag + " requires database ownership")
		}
		for _, p := range privs {
			if grant {
				meta.Grant(grantee, p)
			} else {
				meta.Revoke(grantee, p)
			}
		}
		return &engine.Result{Tag: tag}, nil
	}

	// Table-level privileges apply to the session's current database.
	db, err := instance.Database(sess.dbName)
	if err != nil {
		return nil, err
	}
	meta, ok := db.TableMetadata[table]
	if !ok {
		return nil, core.TableNotFound(table)
	}
	if !actor.IsSuperuser && !meta.IsOwner(actor.Username) {
		return nil, core.PermissionDenied(tag + " requires table ownership")
	}
	for _, p := range privs {
		if grant {
			meta.Grant(grantee, p)
		} else {
			meta.Revoke(grantee, p)
		}
	}
	return &engine.Result{Tag: tag}, nil
}

func roleLookup(instance *core.ServerInstance, name string) (*core.Role, error) {
	if r, ok := instance.Roles[name]; ok {
		return r, nil
	}
	return nil, core.RoleNotFound(name)
}
