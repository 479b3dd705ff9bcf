package policy

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
)

func TestPermissionsFor(t *testing.T) {
	p := New(DefaultRoles(), zap.NewNop())

	perms, err := p.PermissionsFor("temple-manager")
	require.NoError(t, err)
	assert.True(t, perms.CanCreate(model.TaskTypeExceptionEmergency))
	assert.True(t, perms.CanViewAuditLogs)

	perms, err = p.PermissionsFor("kitchen-staff")
	require.NoError(t, err)
	assert.True(t, perms.CanCreate(model.TaskTypeDailyRoutine))
	assert.False(t, perms.CanCreate(model.TaskTypeExceptionEmergency))
	assert.False(t, perms.CanViewAuditLogs)
}

func TestPermissionsForUnknownRole(t *testing.T) {
	p := New(DefaultRoles(), zap.NewNop())

	_, err := p.PermissionsFor("gatekeeper")
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestPermissionsForOrDefaultFallsBack(t *testing.T) {
	p := New(DefaultRoles(), zap.NewNop())

	perms := p.PermissionsForOrDefault("gatekeeper")
	assert.Empty(t, perms.AllowedTaskTypes)
	assert.False(t, perms.CanViewAuditLogs)
	assert.False(t, perms.CanCreate(model.TaskTypeDailyRoutine))
}

func TestLoadFromConfig(t *testing.T) {
	v := viper.New()
	v.Set("roles", map[string]interface{}{
		"temple-manager": map[string]interface{}{
			"allowed_task_types":  []string{"daily-routine", "exception-emergency"},
			"can_view_audit_logs": true,
		},
	})

	p, err := Load(v, zap.NewNop())
	require.NoError(t, err)

	perms, err := p.PermissionsFor("temple-manager")
	require.NoError(t, err)
	assert.True(t, perms.CanCreate(model.TaskTypeExceptionEmergency))
	assert.False(t, perms.CanCreate(model.TaskTypeRitualSeva))

	// The fallback role is always resolvable even if the config omits it
	perms, err = p.PermissionsFor(FallbackRole)
	require.NoError(t, err)
	assert.Empty(t, perms.AllowedTaskTypes)

	// Automated actors resolve even when the config omits the system role
	perms, err = p.PermissionsFor(SystemRole)
	require.NoError(t, err)
	assert.True(t, perms.CanCreate(model.TaskTypeDailyRoutine))
}

func TestLoadWithoutRolesSectionUsesDefaults(t *testing.T) {
	p, err := Load(viper.New(), zap.NewNop())
	require.NoError(t, err)

	perms, err := p.PermissionsFor("head-priest")
	require.NoError(t, err)
	assert.True(t, perms.CanCreate(model.TaskTypeRitualSeva))
}
