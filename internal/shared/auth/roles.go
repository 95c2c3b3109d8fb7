package auth

// Role is an account role.
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RolePsychologist Role = "PSYCHOLOGIST"
	// Students are records, not accounts. The role exists so stored data
	// stays valid, but it carries no permissions.
	RoleStudent Role = "STUDENT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePsychologist, RoleStudent:
		return true
	}
	return false
}

// Permission represents a specific action on a resource.
type Permission string

const (
	PermStudentManage     Permission = "student.manage"
	PermStudentImport     Permission = "student.import"
	PermAssessmentCreate  Permission = "assessment.create"
	PermAssessmentRead    Permission = "assessment.read"
	PermAppointmentManage Permission = "appointment.manage"
	PermReportRender      Permission = "report.render"
	PermStatisticsRead    Permission = "statistics.read"
	PermStatisticsGlobal  Permission = "statistics.global"
	PermUserManage        Permission = "user.manage"
	PermAuditRead         Permission = "audit.read"
)

// RolePermissions maps roles to their permissions.
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermStudentManage, PermStudentImport,
		PermAssessmentCreate, PermAssessmentRead,
		PermAppointmentManage, PermReportRender,
		PermStatisticsRead, PermStatisticsGlobal,
		PermUserManage, PermAuditRead,
	},
	RolePsychologist: {
		PermStudentManage, PermStudentImport,
		PermAssessmentCreate, PermAssessmentRead,
		PermAppointmentManage, PermReportRender,
		PermStatisticsRead,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
