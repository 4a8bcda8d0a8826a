package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/markles/geowarp"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which source regions a viewport would query",
	Long: `Plan resolves a rendering envelope against a source coordinate system
and prints the projection handler's decisions: the valid area of the
target projection and the query envelopes the source would be asked for.

Examples:
  # A dateline-crossing geographic viewport over Web Mercator data
  geowarp plan --bbox "170,-10,190,10" --crs EPSG:4326 --source-crs EPSG:3857 --wrap

  # A UTM source seen through a world-wide viewport
  geowarp plan --bbox "-180,-90,180,90" --crs EPSG:4326 --source-crs EPSG:32632`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().String("source-crs", "EPSG:4326", "coordinate system of the data source")
	viper.BindPFlag("source.crs", planCmd.Flags().Lookup("source-crs"))
}

func runPlan(cmd *cobra.Command, args []string) error {
	env, err := renderEnvelope()
	if err != nil {
		return err
	}
	source, err := parseCRS(viper.GetString("source.crs"))
	if err != nil {
		return fmt.Errorf("resolving source CRS: %w", err)
	}

	handler, err := geowarp.FindHandler(env, source, viper.GetBool("render.wrap"))
	if err != nil {
		return fmt.Errorf("building projection handler: %w", err)
	}

	fmt.Printf("rendering envelope: %v (%s)\n", env.Bound, env.CRS)
	fmt.Printf("source:             %s\n", source)
	fmt.Printf("wrapping:           %v\n", handler.Wrapping())
	if va := handler.ValidArea(); va != nil {
		fmt.Printf("valid area:         %v\n", va.Bound)
	} else {
		fmt.Printf("valid area:         unrestricted\n")
	}

	queries, err := handler.QueryEnvelopes()
	if err != nil {
		return fmt.Errorf("computing query envelopes: %w", err)
	}
	if len(queries) == 0 {
		fmt.Println("query envelopes:    none, viewport misses the projectable area")
		return nil
	}
	fmt.Printf("query envelopes:    %d\n", len(queries))
	for i, q := range queries {
		fmt.Printf("  [%d] %.6g,%.6g -> %.6g,%.6g\n", i, q.Bound.Min[0], q.Bound.Min[1], q.Bound.Max[0], q.Bound.Max[1])
	}
	return nil
}
