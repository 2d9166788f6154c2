package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/actuator/pkg/capability"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect permission profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the profiles of the profiles file",
	Args:  cobra.NoArgs,
	RunE:  runProfilesList,
}

var profilesCheckCmd = &cobra.Command{
	Use:   "check <action>",
	Short: "Show whether the active profile permits an action",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesCheck,
}

var checkProfile string

func init() {
	profilesCheckCmd.Flags().StringVar(&checkProfile, "profile", "", "profile to check instead of the active one")

	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesCheckCmd)
	rootCmd.AddCommand(profilesCmd)
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, store, err := openProfiles(cfg, "")
	if err != nil {
		return err
	}
	if store == nil {
		cmd.Printf("No profiles file at %s; every action is enabled.\n", cfg.Profiles.Path)
		return nil
	}
	defer store.Close()

	active := store.ActiveProfile()
	for _, p := range store.Profiles() {
		marker := " "
		if active != nil && active.Name == p.Name {
			marker = "*"
		}
		cmd.Printf("%s %s", marker, p.Name)
		if p.Description != "" {
			cmd.Printf(" - %s", p.Description)
		}
		cmd.Println()
		printRule(cmd, "enabled categories", categories(p.EnabledCategories))
		printRule(cmd, "disabled categories", categories(p.DisabledCategories))
		printRule(cmd, "enabled actions", p.EnabledActions)
		printRule(cmd, "disabled actions", p.DisabledActions)
	}
	return nil
}

func runProfilesCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	profiles, store, err := openProfiles(cfg, checkProfile)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	name := strings.TrimSpace(args[0])
	profile := profiles.ActiveProfile()
	decision := capability.NewValidator(registry).Validate(name, profile)

	cmd.Printf("profile: %s\n", profileName(profile))
	if !registry.Has(name) {
		cmd.Printf("warning: %s is not in the action catalog\n", name)
	}
	if decision.Allowed {
		cmd.Printf("allowed: %s\n", decision.Reason)
		return nil
	}
	cmd.Printf("denied (%s): %s\n", decision.Violation, decision.Reason)
	return nil
}

func printRule(cmd *cobra.Command, label string, values []string) {
	if len(values) == 0 {
		return
	}
	cmd.Printf("    %s: %s\n", label, strings.Join(values, ", "))
}

func categories(list []capability.Category) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = string(c)
	}
	return out
}

// profileName returns the name of p, or a placeholder for nil.
func profileName(p *capability.PermissionProfile) string {
	if p == nil {
		return "(none)"
	}
	return fmt.Sprintf("%q", p.Name)
}
