package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCategories map[string]Category

func (f fakeCategories) Category(name string) (Category, bool) {
	c, ok := f[name]
	return c, ok
}

func testLookup() fakeCategories {
	return fakeCategories{
		"read_file":  CategoryRead,
		"list_files": CategoryRead,
		"write_file": CategoryWrite,
		"run":        CategoryShell,
		"fetch":      CategoryWeb,
	}
}

func TestValidator_NilProfileDenied(t *testing.T) {
	v := NewValidator(testLookup())

	d := v.Validate("read_file", nil)

	assert.False(t, d.Allowed)
	assert.Equal(t, ViolationNoProfile, d.Violation)
	assert.Equal(t, "no active permission profile", d.Reason)
}

func TestValidator_Rules(t *testing.T) {
	profile := &PermissionProfile{
		Name:               "dev",
		EnabledCategories:  []Category{CategoryRead, CategoryWrite},
		DisabledCategories: []Category{CategoryShell},
		EnabledActions:     []string{"run", "fetch"},
		DisabledActions:    []string{"write_*"},
	}

	tests := []struct {
		name      string
		action    string
		allowed   bool
		violation Violation
	}{
		{"enabled category", "read_file", true, ViolationNone},
		{"disabled action overrides enabled category", "write_file", false, ViolationActionDisabled},
		{"enabled action overrides disabled category", "run", true, ViolationNone},
		{"enabled action without enabled category", "fetch", true, ViolationNone},
		{"unknown action not enabled", "mystery", false, ViolationNotEnabled},
	}

	v := NewValidator(testLookup())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := v.Validate(tt.action, profile)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			assert.Equal(t, tt.violation, d.Violation)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestValidator_DisabledCategory(t *testing.T) {
	profile := &PermissionProfile{
		Name:               "locked",
		EnabledCategories:  []Category{CategoryShell},
		DisabledCategories: []Category{CategoryShell},
	}
	v := NewValidator(testLookup())

	d := v.Validate("run", profile)

	assert.False(t, d.Allowed)
	assert.Equal(t, ViolationCategoryDisabled, d.Violation)
	assert.Equal(t, "category 'shell' of action 'run' is disabled by profile 'locked'", d.Reason)
}

func TestValidator_WildcardAndStableReason(t *testing.T) {
	profile := &PermissionProfile{Name: "open", EnabledActions: []string{"*"}}
	v := NewValidator(nil)

	assert.True(t, v.Validate("anything", profile).Allowed)

	strict := &PermissionProfile{Name: "strict"}
	first := v.Validate("read_file", strict)
	second := v.Validate("read_file", strict)
	assert.Equal(t, first, second)
	assert.Equal(t, "action 'read_file' is not enabled in profile 'strict'", first.Reason)
}

func TestValidator_NilLookupSkipsCategories(t *testing.T) {
	profile := &PermissionProfile{Name: "p", EnabledCategories: []Category{CategoryRead}}
	v := NewValidator(nil)

	d := v.Validate("read_file", profile)
	assert.False(t, d.Allowed)
	assert.Equal(t, ViolationNotEnabled, d.Violation)
}

func TestPermissionProfile_Validate(t *testing.T) {
	require.NoError(t, (&PermissionProfile{Name: "ok", EnabledCategories: []Category{CategoryRead}}).Validate())

	assert.Error(t, (&PermissionProfile{}).Validate())
	assert.Error(t, (&PermissionProfile{Name: "bad", EnabledCategories: []Category{"nope"}}).Validate())
	assert.Error(t, (&PermissionProfile{Name: "bad", DisabledActions: []string{"[x"}}).Validate())
}

func TestMergeProfiles(t *testing.T) {
	a := &PermissionProfile{
		Name:              "a",
		EnabledCategories: []Category{CategoryRead, CategoryWrite},
		EnabledActions:    []string{"run", "fetch"},
		DisabledActions:   []string{"rm"},
	}
	b := &PermissionProfile{
		Name:               "b",
		EnabledCategories:  []Category{CategoryRead},
		EnabledActions:     []string{"fetch"},
		DisabledCategories: []Category{CategoryShell},
	}

	merged := MergeProfiles("merged", a, nil, b)

	require.NotNil(t, merged)
	assert.Equal(t, "merged", merged.Name)
	assert.Equal(t, []Category{CategoryRead}, merged.EnabledCategories)
	assert.Equal(t, []string{"fetch"}, merged.EnabledActions)
	assert.Equal(t, []Category{CategoryShell}, merged.DisabledCategories)
	assert.Equal(t, []string{"rm"}, merged.DisabledActions)

	// inputs untouched
	assert.Equal(t, []string{"run", "fetch"}, a.EnabledActions)
	assert.Nil(t, MergeProfiles("none"))
}

func TestStaticProfiles(t *testing.T) {
	p := &PermissionProfile{Name: "x"}
	var src ProfileSource = StaticProfiles{Profile: p}
	assert.Same(t, p, src.ActiveProfile())
}
