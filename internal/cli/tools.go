package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mirelabs/conductor/pkg/coretools"
	"github.com/mirelabs/conductor/pkg/toolset"
)

var toolsAgent string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List available tools",
	Long: `List the built-in tool catalog. With --agent, list the resolved
tool roster that agent would be offered on a turn instead.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsAgent, "agent", "", "show the resolved roster for this agent")

	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if toolsAgent == "" {
		return listCatalog(ctx, cmd)
	}

	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	agent, ok := rt.lookupAgent(toolsAgent)
	if !ok {
		return fmt.Errorf("unknown agent %q", toolsAgent)
	}

	resolver := toolset.NewResolver(toolset.ResolverConfig{
		Catalog:     coretools.Catalog{},
		Credentials: rt.credentials,
		Logger:      rt.log.GetZerolog(),
	})

	resolved := resolver.Resolve(ctx, agent.Tools)
	if len(resolved) == 0 {
		cmd.Printf("agent %s has no resolvable tools\n", agent.ID)
		return nil
	}

	for _, tool := range resolved {
		cmd.Printf("%-12s %s\n", tool.Descriptor.Name, tool.Descriptor.Description)
	}
	return nil
}

func listCatalog(ctx context.Context, cmd *cobra.Command) error {
	catalog := coretools.Catalog{}

	names := make([]string, 0, len(coretools.Factories()))
	for name := range coretools.Factories() {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def, err := catalog.CatalogTool(ctx, name)
		if err != nil || def == nil {
			continue
		}
		cmd.Printf("%-12s %s\n", def.Name, def.Description)
	}
	return nil
}
