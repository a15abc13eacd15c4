package rbac

// Default policy for the three dashboard roles.
var RolePermissions = map[string][]string{
	"student": {
		"exam:list",
		"attempt:start",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"result:view-own",
		"user:change_password",
	},
	"teacher": {
		"exam:list",
		"exam:create",
		"exam:edit",
		"exam:delete",
		"exam:enroll",
		"question:edit",
		"attempt:view-all",
		"attempt:grade",
		"scores:publish",
		"user:change_password",
	},
	"admin": {
		"*", // everything
	},
}
