package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/actuator/pkg/approval"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage actions that are approved without asking",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List always-allowed actions",
	Args:  cobra.NoArgs,
	RunE:  runApprovalsList,
}

var approvalsAllowCmd = &cobra.Command{
	Use:   "allow <action|pattern>",
	Short: "Always allow an action, or every action matching a glob pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsAllow,
}

var approvalsRevokeCmd = &cobra.Command{
	Use:   "revoke <action|pattern>",
	Short: "Ask again before running an action",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsRevoke,
}

var allowReason string

func init() {
	approvalsAllowCmd.Flags().StringVar(&allowReason, "reason", "added from the command line", "why the action is trusted")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsAllowCmd)
	approvalsCmd.AddCommand(approvalsRevokeCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	allowlist, err := loadAllowlist()
	if err != nil {
		return err
	}

	entries := allowlist.List()
	if len(entries) == 0 {
		cmd.Println("No always-allowed actions.")
		return nil
	}

	cmd.Printf("Always-allowed actions (%s):\n", allowlist.Path())
	for _, entry := range entries {
		target := entry.Action
		if target == "" {
			target = entry.Pattern
		}
		cmd.Printf("- %s | %s | added %s\n", target, entry.Reason, addedAgo(entry.AddedAt))
	}
	return nil
}

func runApprovalsAllow(cmd *cobra.Command, args []string) error {
	target := strings.TrimSpace(args[0])
	allowlist, err := loadAllowlist()
	if err != nil {
		return err
	}

	entry := approval.AllowlistEntry{Reason: allowReason, AddedAt: time.Now().Format(time.RFC3339)}
	if strings.ContainsAny(target, "*?[") {
		entry.Pattern = target
	} else {
		entry.Action = target
	}
	if err := allowlist.Add(entry); err != nil {
		return err
	}
	if err := allowlist.Save(); err != nil {
		return err
	}

	cmd.Printf("%s will run without asking.\n", target)
	return nil
}

func runApprovalsRevoke(cmd *cobra.Command, args []string) error {
	target := strings.TrimSpace(args[0])
	allowlist, err := loadAllowlist()
	if err != nil {
		return err
	}

	if err := allowlist.Remove(target); err != nil {
		return err
	}
	if err := allowlist.Save(); err != nil {
		return err
	}

	cmd.Printf("%s needs approval again.\n", target)
	return nil
}

func addedAgo(addedAt string) string {
	t, err := time.Parse(time.RFC3339, addedAt)
	if err != nil {
		return "at an unknown time"
	}
	return formatDuration(time.Since(t).Round(time.Second)) + " ago"
}

func loadAllowlist() (*approval.Allowlist, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	allowlist, err := approval.NewAllowlist(cfg.Approval.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load allowlist: %w", err)
	}
	return allowlist, nil
}
