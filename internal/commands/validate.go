package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cewlabs/cew/internal/safety"
	"github.com/cewlabs/cew/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>",
	Short: "Validate a scenario file against the air-gap invariants",
	Long: `Validate checks a scenario document offline: constraint flags,
network isolation, hostname uniqueness, network references and static ip
addresses. No backend is touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// scenarioDocument is the on-disk shape of a scenario: the activation
// request minus the activator.
type scenarioDocument struct {
	ScenarioID   string             `yaml:"scenario_id"`
	ScenarioName string             `yaml:"scenario_name"`
	Topology     models.Topology    `yaml:"topology"`
	Constraints  models.Constraints `yaml:"constraints"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read scenario file: %w", err)
	}

	var doc scenarioDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse scenario file: %w", err)
	}

	v := safety.New()
	if err := v.ValidateConstraints(doc.Constraints); err != nil {
		return err
	}
	if err := v.ValidateTopology(doc.Topology); err != nil {
		return err
	}

	fmt.Printf("%s: ok (%d networks, %d nodes)\n",
		args[0], len(doc.Topology.Networks), len(doc.Topology.Nodes))
	return nil
}
