package capability

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Violation names the rule that denied an action.
type Violation string

const (
	ViolationNone             Violation = ""
	ViolationNoProfile        Violation = "no_profile"
	ViolationActionDisabled   Violation = "action_disabled"
	ViolationCategoryDisabled Violation = "category_disabled"
	ViolationNotEnabled       Violation = "not_enabled"
)

// Decision is the outcome of validating one action name.
type Decision struct {
	Allowed   bool
	Reason    string
	Violation Violation
}

// CategoryLookup resolves the category of a registered action.
type CategoryLookup interface {
	Category(actionName string) (Category, bool)
}

// ProfileSource returns the profile in force for the current turn.
type ProfileSource interface {
	ActiveProfile() *PermissionProfile
}

// Validator decides whether an action is permitted under a profile.
// Validate is pure: no I/O, no state beyond the category lookup.
type Validator struct {
	categories CategoryLookup
}

// NewValidator creates a validator. categories may be nil, in which case
// category rules never match.
func NewValidator(categories CategoryLookup) *Validator {
	return &Validator{categories: categories}
}

// Validate checks actionName against profile. Rules, first match wins:
// no profile, disabled action, enabled action, disabled category,
// enabled category, otherwise denied.
func (v *Validator) Validate(actionName string, profile *PermissionProfile) Decision {
	if profile == nil {
		return v.deny(actionName, "", ViolationNoProfile, "no active permission profile")
	}

	if pattern, ok := matchAny(profile.DisabledActions, actionName); ok {
		return v.deny(actionName, profile.Name, ViolationActionDisabled,
			fmt.Sprintf("action '%s' is disabled by profile '%s' (%s)", actionName, profile.Name, pattern))
	}

	if _, ok := matchAny(profile.EnabledActions, actionName); ok {
		return Decision{Allowed: true, Reason: fmt.Sprintf("action '%s' is enabled by profile '%s'", actionName, profile.Name)}
	}

	category, known := v.category(actionName)
	if known && hasCategory(profile.DisabledCategories, category) {
		return v.deny(actionName, profile.Name, ViolationCategoryDisabled,
			fmt.Sprintf("category '%s' of action '%s' is disabled by profile '%s'", category, actionName, profile.Name))
	}

	if known && hasCategory(profile.EnabledCategories, category) {
		return Decision{Allowed: true, Reason: fmt.Sprintf("category '%s' is enabled by profile '%s'", category, profile.Name)}
	}

	return v.deny(actionName, profile.Name, ViolationNotEnabled,
		fmt.Sprintf("action '%s' is not enabled in profile '%s'", actionName, profile.Name))
}

func (v *Validator) category(actionName string) (Category, bool) {
	if v.categories == nil {
		return "", false
	}
	return v.categories.Category(actionName)
}

func (v *Validator) deny(actionName, profile string, violation Violation, reason string) Decision {
	log.Debug().
		Str("action", actionName).
		Str("profile", profile).
		Str("violation", string(violation)).
		Msg("Action denied by capability policy")

	return Decision{Allowed: false, Reason: reason, Violation: violation}
}

// StaticProfiles is an in-memory ProfileSource.
type StaticProfiles struct {
	Profile *PermissionProfile
}

// ActiveProfile implements ProfileSource.
func (s StaticProfiles) ActiveProfile() *PermissionProfile {
	return s.Profile
}
