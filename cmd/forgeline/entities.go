package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgeline/core/pkg/filter"
	"github.com/forgeline/core/pkg/ident"
	"github.com/forgeline/core/pkg/replay"
	"github.com/forgeline/core/pkg/service"
)

var createCmd = &cobra.Command{
	Use:   "create <kind>",
	Short: "Create a new issue, milestone, or task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().String("title", "", "Title (required)")
	createCmd.Flags().String("description", "", "Description")
	createCmd.Flags().StringArray("label", nil, "Label to attach (repeatable)")
	createCmd.Flags().StringArray("assignee", nil, "Assignee to attach (repeatable)")
	createCmd.Flags().String("state", "", "Initial state (defaults to the workflow's default state)")
	createCmd.Flags().String("comment", "", "Seed an initial comment")
	_ = createCmd.MarkFlagRequired("title")
}

func runCreate(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	title, _ := cmd.Flags().GetString("title")
	description, _ := cmd.Flags().GetString("description")
	labels, _ := cmd.Flags().GetStringArray("label")
	assignees, _ := cmd.Flags().GetStringArray("assignee")
	state, _ := cmd.Flags().GetString("state")
	comment, _ := cmd.Flags().GetString("comment")

	in := service.CreateInput{
		Kind:      kind,
		Title:     title,
		Labels:    labels,
		Assignees: assignees,
		State:     state,
		Actor:     actorFromFlags(cmd),
	}
	if description != "" {
		in.Description = &description
	}
	if comment != "" {
		in.InitialComment = &comment
	}

	snap, err := a.svc.Create(in)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

var showCmd = &cobra.Command{
	Use:   "show <kind> <id>",
	Short: "Show an entity's current materialized state, including comments",
	Args:  cobra.ExactArgs(2),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	entityId, err := ident.ParseEntityId(args[1])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.GetWithComments(kind, entityId)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	for _, c := range snap.Comments {
		edited := ""
		if c.EditedAt != nil {
			edited = " (edited)"
		}
		fmt.Printf("  [%s] %s%s: %s\n", c.CommentId, c.Author, edited, c.BodyMD)
	}
	for _, w := range snap.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List entities matching a filter",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	listCmd.Flags().String("status", "", "Match an exact state value")
	listCmd.Flags().StringArray("label", nil, "Require each of these labels (AND)")
	listCmd.Flags().StringArray("assignee", nil, "Match any of these assignees (OR)")
	listCmd.Flags().String("text", "", "Case-insensitive substring search")
	listCmd.Flags().StringArray("state-kind", nil, "Restrict to these state kinds")
	listCmd.Flags().StringArray("exclude-state-kind", nil, "Exclude these state kinds")
}

func runList(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	status, _ := cmd.Flags().GetString("status")
	labels, _ := cmd.Flags().GetStringArray("label")
	assignees, _ := cmd.Flags().GetStringArray("assignee")
	text, _ := cmd.Flags().GetString("text")
	includeKinds, _ := cmd.Flags().GetStringArray("state-kind")
	excludeKinds, _ := cmd.Flags().GetStringArray("exclude-state-kind")

	q := filter.Query{
		Status:            status,
		LabelsAll:         labels,
		AssigneesAny:      assignees,
		Text:              text,
		StateKindsInclude: includeKinds,
		StateKindsExclude: excludeKinds,
	}

	snaps, err := a.svc.ListEntities(kind, q)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		fmt.Printf("%s\t%-8s\t%s\t%s\n", snap.Id, snap.State, strings.Join(snap.Labels, ","), snap.Title)
	}
	fmt.Printf("%d %s\n", len(snaps), string(kind))
	return nil
}

func printSnapshot(snap *replay.Snapshot) {
	fmt.Printf("id:          %s\n", snap.Id)
	fmt.Printf("title:       %s\n", snap.Title)
	if snap.HasDescription {
		fmt.Printf("description: %s\n", snap.Description)
	}
	fmt.Printf("state:       %s (%s)\n", snap.State, snap.StateKind)
	fmt.Printf("labels:      %s\n", strings.Join(snap.Labels, ", "))
	fmt.Printf("assignees:   %s\n", strings.Join(snap.Assignees, ", "))
	fmt.Printf("created_at:  %s\n", snap.CreatedAt)
	fmt.Printf("updated_at:  %s\n", snap.UpdatedAt)
}
