package policy

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
)

// ErrUnknownRole is returned when a role has no permission record
var ErrUnknownRole = errors.New("unknown role")

// FallbackRole is the least-privileged operational role callers fall back
// to when a role lookup misses
const FallbackRole = "volunteer"

// SystemRole is the role attached to automated actors (auto-generator,
// escalation monitor)
const SystemRole = "system"

// Permissions describes what a role may do with tasks
type Permissions struct {
	AllowedTaskTypes []model.TaskType `json:"allowed_task_types" mapstructure:"allowed_task_types"`
	CanViewAuditLogs bool             `json:"can_view_audit_logs" mapstructure:"can_view_audit_logs"`
}

// CanCreate reports whether the permissions allow creating the given type
func (p Permissions) CanCreate(taskType model.TaskType) bool {
	for _, t := range p.AllowedTaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// RolePolicy is a read-only mapping from role to permissions. It is
// loaded once at startup and never mutated afterwards.
type RolePolicy struct {
	logger *zap.Logger
	roles  map[string]Permissions
}

// New creates a role policy from an explicit permission table
func New(roles map[string]Permissions, logger *zap.Logger) *RolePolicy {
	return &RolePolicy{
		logger: logger.Named("role-policy"),
		roles:  roles,
	}
}

// Load reads the role permission table from the "roles" config section,
// falling back to the built-in defaults when the section is absent
func Load(v *viper.Viper, logger *zap.Logger) (*RolePolicy, error) {
	if !v.IsSet("roles") {
		return New(DefaultRoles(), logger), nil
	}

	var roles map[string]Permissions
	if err := v.UnmarshalKey("roles", &roles); err != nil {
		return nil, fmt.Errorf("failed to parse role permissions: %w", err)
	}
	if _, ok := roles[FallbackRole]; !ok {
		// The fallback role must always resolve
		roles[FallbackRole] = Permissions{}
	}
	if _, ok := roles[SystemRole]; !ok {
		// Automated actors keep working even when the config omits them
		roles[SystemRole] = DefaultRoles()[SystemRole]
	}
	return New(roles, logger), nil
}

// DefaultRoles returns the built-in permission table
func DefaultRoles() map[string]Permissions {
	all := []model.TaskType{
		model.TaskTypeDailyRoutine,
		model.TaskTypeRitualSeva,
		model.TaskTypeEventFestival,
		model.TaskTypeFacilitySafety,
		model.TaskTypeExceptionEmergency,
	}

	return map[string]Permissions{
		"temple-manager": {AllowedTaskTypes: all, CanViewAuditLogs: true},
		"head-priest": {
			AllowedTaskTypes: []model.TaskType{
				model.TaskTypeDailyRoutine,
				model.TaskTypeRitualSeva,
				model.TaskTypeEventFestival,
				model.TaskTypeExceptionEmergency,
			},
			CanViewAuditLogs: true,
		},
		"ritual-coordinator": {
			AllowedTaskTypes: []model.TaskType{
				model.TaskTypeDailyRoutine,
				model.TaskTypeRitualSeva,
			},
		},
		"kitchen-staff": {
			AllowedTaskTypes: []model.TaskType{model.TaskTypeDailyRoutine},
		},
		"facility-lead": {
			AllowedTaskTypes: []model.TaskType{
				model.TaskTypeDailyRoutine,
				model.TaskTypeFacilitySafety,
			},
		},
		"safety-officer": {
			AllowedTaskTypes: []model.TaskType{
				model.TaskTypeFacilitySafety,
				model.TaskTypeExceptionEmergency,
			},
			CanViewAuditLogs: true,
		},
		SystemRole:   {AllowedTaskTypes: all},
		FallbackRole: {},
	}
}

// PermissionsFor returns the permission record for a role
func (p *RolePolicy) PermissionsFor(role string) (Permissions, error) {
	perms, ok := p.roles[role]
	if !ok {
		return Permissions{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return perms, nil
}

// PermissionsForOrDefault resolves a role's permissions, falling back to
// the least-privileged operational role on a lookup miss. The fallback is
// logged so misconfigured roles surface instead of silently gaining or
// losing rights.
func (p *RolePolicy) PermissionsForOrDefault(role string) Permissions {
	perms, err := p.PermissionsFor(role)
	if err != nil {
		p.logger.Warn("Unknown role, falling back to least-privileged permissions",
			zap.String("role", role),
			zap.String("fallback", FallbackRole))
		fallback, ferr := p.PermissionsFor(FallbackRole)
		if ferr != nil {
			return Permissions{}
		}
		return fallback
	}
	return perms
}
