package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/core/pkg/entitylog"
	"github.com/forgeline/core/pkg/ident"
)

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Add or update a comment",
}

var commentAddCmd = &cobra.Command{
	Use:   "add <kind> <id>",
	Short: "Append a comment to an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runCommentAdd,
}

var commentUpdateCmd = &cobra.Command{
	Use:   "update <kind> <id> <comment-id>",
	Short: "Replace the body of a previously added comment",
	Args:  cobra.ExactArgs(3),
	RunE:  runCommentUpdate,
}

func init() {
	commentAddCmd.Flags().String("body", "", "Comment body (markdown)")
	_ = commentAddCmd.MarkFlagRequired("body")
	commentUpdateCmd.Flags().String("body", "", "New comment body (markdown)")
	_ = commentUpdateCmd.MarkFlagRequired("body")
	commentCmd.AddCommand(commentAddCmd, commentUpdateCmd)
}

func runCommentAdd(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	entityId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	body, _ := cmd.Flags().GetString("body")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.AppendComment(kind, entityId, ident.OperationId{}, body, actorFromFlags(cmd))
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func runCommentUpdate(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	entityId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	commentId, err := ident.ParseOperationId(args[2])
	if err != nil {
		return err
	}
	body, _ := cmd.Flags().GetString("body")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.UpdateComment(kind, entityId, commentId, body, actorFromFlags(cmd))
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

var labelCmd = &cobra.Command{
	Use:   "label <kind> <id>",
	Short: "Add and/or remove labels on an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runLabel,
}

func init() {
	labelCmd.Flags().StringArray("add", nil, "Label to add (repeatable)")
	labelCmd.Flags().StringArray("remove", nil, "Label to remove (repeatable)")
}

func runLabel(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	entityId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	add, _ := cmd.Flags().GetStringArray("add")
	remove, _ := cmd.Flags().GetStringArray("remove")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.UpdateLabels(kind, entityId, add, remove, actorFromFlags(cmd))
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

var assigneeCmd = &cobra.Command{
	Use:   "assignee <kind> <id>",
	Short: "Add and/or remove assignees on an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runAssignee,
}

func init() {
	assigneeCmd.Flags().StringArray("add", nil, "Assignee to add (repeatable)")
	assigneeCmd.Flags().StringArray("remove", nil, "Assignee to remove (repeatable)")
}

func runAssignee(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	entityId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	add, _ := cmd.Flags().GetStringArray("add")
	remove, _ := cmd.Flags().GetStringArray("remove")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.UpdateAssignees(kind, entityId, add, remove, actorFromFlags(cmd))
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <kind> <id>",
	Short: "Change (or clear) an entity's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("state", "", "New state value; omit to clear the current state")
}

func runStatus(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	entityId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	state, _ := cmd.Flags().GetString("state")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.ChangeStatus(kind, entityId, state, actorFromFlags(cmd))
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

var linkCmd = &cobra.Command{
	Use:   "link <kind> <parent-id> <child-id>",
	Short: "Link or unlink a parent/child relationship",
	Args:  cobra.ExactArgs(3),
	RunE:  runLink,
}

func init() {
	linkCmd.Flags().Bool("remove", false, "Unlink instead of link")
}

func runLink(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	parentId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	childId, err := ident.ParseEntityId(args[2])
	if err != nil {
		return err
	}
	remove, _ := cmd.Flags().GetBool("remove")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if remove {
		s, err := a.svc.UnlinkChild(kind, parentId, childId, actorFromFlags(cmd))
		if err != nil {
			return err
		}
		printSnapshot(s)
	} else {
		s, err := a.svc.LinkChild(kind, parentId, childId, actorFromFlags(cmd))
		if err != nil {
			return err
		}
		printSnapshot(s)
	}
	return nil
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <kind> <id>",
	Short: "Resolve divergent heads left by concurrent writers",
	Args:  cobra.ExactArgs(2),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().String("strategy", "ours", "Resolution strategy: ours, theirs, or manual")
	resolveCmd.Flags().StringArray("keep", nil, "For manual: operation id(s) to keep as heads")
	resolveCmd.Flags().StringArray("known", nil, "For ours/theirs: operation id(s) already known to the caller")
}

func runResolve(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	entityId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	strategyName, _ := cmd.Flags().GetString("strategy")
	keepStrs, _ := cmd.Flags().GetStringArray("keep")
	knownStrs, _ := cmd.Flags().GetStringArray("known")

	var strategy entitylog.Strategy
	switch strategyName {
	case "ours":
		strategy = entitylog.Ours
	case "theirs":
		strategy = entitylog.Theirs
	case "manual":
		strategy = entitylog.Manual
	default:
		return fmt.Errorf("unknown strategy %q (want ours, theirs, or manual)", strategyName)
	}

	keep, err := parseOperationIds(keepStrs)
	if err != nil {
		return err
	}
	known, err := parseOperationIds(knownStrs)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	who := actorFromFlags(cmd)
	snap, err := a.svc.ResolveConflicts(kind, entityId, entitylog.ResolveRequest{
		Strategy:   strategy,
		KnownHeads: known,
		KeepHeads:  keep,
		Author:     who.Name,
	})
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func parseOperationIds(strs []string) ([]ident.OperationId, error) {
	out := make([]ident.OperationId, 0, len(strs))
	for _, s := range strs {
		id, err := ident.ParseOperationId(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
