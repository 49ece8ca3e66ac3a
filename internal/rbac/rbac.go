package rbac

type Role string
type Action string

const (
	RoleReader  Role = "reader"
	RoleCurator Role = "curator"
	RoleAdmin   Role = "admin"
)

const (
	// ActionLog covers a reader's own logs, notes, chapters and tags.
	ActionLog Action = "log"
	// ActionCatalogAdd adds a new book to the shared catalog.
	ActionCatalogAdd Action = "catalog:add"
	// ActionCatalogManage edits existing catalog entries, such as covers.
	ActionCatalogManage Action = "catalog:manage"
	ActionAdmin         Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleCurator:
		return action == ActionLog || action == ActionCatalogAdd || action == ActionCatalogManage
	case RoleReader:
		return action == ActionLog || action == ActionCatalogAdd
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to reader.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleCurator, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}
