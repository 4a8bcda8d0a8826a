package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/markles/geowarp"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "geowarp",
	Short: "Plan and execute reprojected raster reads",
	Long: `Geowarp works out which parts of a data source a map viewport needs,
projection quirks included. It understands periodic systems, so a
viewport across the dateline or scrolled several worlds sideways still
queries the right source regions.

Examples:
  # Show the query plan for a dateline-crossing viewport
  geowarp plan --bbox "170,-10,190,10" --crs EPSG:4326 --source-crs EPSG:3857 --wrap

  # Read a GeoTIFF for a viewport in another projection
  geowarp read --source dem.tif --bbox "-20037508,-20037508,20037508,20037508" --crs EPSG:3857 --width 512 --height 512`,
	Version: "0.3.0",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.geowarp.yaml)")
	rootCmd.PersistentFlags().String("bbox", "", "rendering envelope as minX,minY,maxX,maxY")
	rootCmd.PersistentFlags().String("crs", "EPSG:4326", "rendering coordinate system")
	rootCmd.PersistentFlags().Bool("wrap", true, "wrap queries and geometries across the dateline")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output")

	viper.BindPFlag("render.bbox", rootCmd.PersistentFlags().Lookup("bbox"))
	viper.BindPFlag("render.crs", rootCmd.PersistentFlags().Lookup("crs"))
	viper.BindPFlag("render.wrap", rootCmd.PersistentFlags().Lookup("wrap"))
	viper.BindPFlag("logging.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".geowarp")
	}

	viper.SetEnvPrefix("GEOWARP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("logging.verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func newLogger() *zap.Logger {
	if viper.GetBool("logging.verbose") {
		l, err := zap.NewDevelopment()
		if err == nil {
			return l
		}
	}
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// parseCRS accepts "EPSG:4326" or a bare numeric code.
func parseCRS(s string) (*geowarp.CRS, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(strings.ToUpper(s), "EPSG:"); ok {
		s = rest
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid CRS %q: %w", s, err)
	}
	return geowarp.ResolveCRS(code)
}

// parseBBox parses "minX,minY,maxX,maxY".
func parseBBox(s string, crs *geowarp.CRS) (geowarp.Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geowarp.Envelope{}, fmt.Errorf("bbox needs four comma-separated values, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geowarp.Envelope{}, fmt.Errorf("invalid bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return geowarp.Envelope{}, fmt.Errorf("bbox %q is empty or inverted", s)
	}
	return geowarp.NewEnvelope(v[0], v[1], v[2], v[3], crs), nil
}

func renderEnvelope() (geowarp.Envelope, error) {
	crs, err := parseCRS(viper.GetString("render.crs"))
	if err != nil {
		return geowarp.Envelope{}, err
	}
	bbox := viper.GetString("render.bbox")
	if bbox == "" {
		return geowarp.Envelope{}, fmt.Errorf("--bbox is required")
	}
	return parseBBox(bbox, crs)
}
