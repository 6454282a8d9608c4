package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forgeline/core/pkg/service"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-create entities from a YAML file",
	Long: `Import reads a YAML document describing a batch of issues, milestones,
or tasks and creates each one as its own pack, in document order.

Example:

  entities:
    - kind: issue
      title: "Flaky integration test"
      labels: [bug, ci]
      state: todo
    - kind: milestone
      title: "v1.0"
`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringP("file", "f", "", "YAML file to import (required)")
	_ = importCmd.MarkFlagRequired("file")
}

// importDocument is the on-disk shape of a bulk import file: a flat list of
// entities to create, each validated and admitted as its own pack so a
// failure partway through leaves every earlier entity durably created.
type importDocument struct {
	Entities []importEntity `yaml:"entities"`
}

type importEntity struct {
	Kind        string   `yaml:"kind"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Labels      []string `yaml:"labels"`
	Assignees   []string `yaml:"assignees"`
	State       string   `yaml:"state"`
	Comment     string   `yaml:"comment"`
}

func runImport(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	var doc importDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	who := actorFromFlags(cmd)
	created := 0
	for i, e := range doc.Entities {
		kind, err := parseKind(e.Kind)
		if err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		in := service.CreateInput{
			Kind:      kind,
			Title:     e.Title,
			Labels:    e.Labels,
			Assignees: e.Assignees,
			State:     e.State,
			Actor:     who,
		}
		if e.Description != "" {
			in.Description = &e.Description
		}
		if e.Comment != "" {
			in.InitialComment = &e.Comment
		}
		snap, err := a.svc.Create(in)
		if err != nil {
			return fmt.Errorf("entity %d (%q): %w", i, e.Title, err)
		}
		fmt.Printf("created %s %s %q\n", e.Kind, snap.Id, snap.Title)
		created++
	}
	fmt.Printf("imported %d entities\n", created)
	return nil
}
