package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/valyala/fasthttp"

	"github.com/markles/geowarp"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the coverages a viewport needs from a GeoTIFF",
	Long: `Read opens a GeoTIFF, local or remote, and reads the raster regions a
viewport needs, reprojection planning included. Each resulting coverage
is reported with its pixel dimensions and extent.

Examples:
  # Local file, same projection
  geowarp read --source dem.tif --bbox "5,45,15,55" --crs EPSG:4326 --width 512 --height 512

  # Remote file behind a viewport crossing the dateline
  geowarp read --source https://example.com/dem.tif --bbox "170,-10,190,10" --crs EPSG:4326 --width 1024 --height 512 --wrap`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)

	readCmd.Flags().String("source", "", "GeoTIFF path or http(s) URL")
	readCmd.Flags().Int("width", 256, "output raster width in pixels")
	readCmd.Flags().Int("height", 256, "output raster height in pixels")
	readCmd.Flags().String("interpolation", "nearest", "resampling method (nearest, bilinear, bicubic)")
	readCmd.Flags().Int("workers", 1, "concurrent envelope reads")
	readCmd.MarkFlagRequired("source")

	viper.BindPFlag("source.path", readCmd.Flags().Lookup("source"))
	viper.BindPFlag("render.width", readCmd.Flags().Lookup("width"))
	viper.BindPFlag("render.height", readCmd.Flags().Lookup("height"))
	viper.BindPFlag("render.interpolation", readCmd.Flags().Lookup("interpolation"))
	viper.BindPFlag("read.workers", readCmd.Flags().Lookup("workers"))
}

func parseInterpolation(s string) (geowarp.Interpolation, error) {
	switch s {
	case "nearest":
		return geowarp.InterpolationNearest, nil
	case "bilinear":
		return geowarp.InterpolationBilinear, nil
	case "bicubic":
		return geowarp.InterpolationBicubic, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", s)
}

func runRead(cmd *cobra.Command, args []string) error {
	env, err := renderEnvelope()
	if err != nil {
		return err
	}
	interp, err := parseInterpolation(viper.GetString("render.interpolation"))
	if err != nil {
		return err
	}
	width := viper.GetInt("render.width")
	height := viper.GetInt("render.height")
	if width <= 0 || height <= 0 {
		return fmt.Errorf("width and height must be positive")
	}

	src, err := geowarp.OpenGeoTIFF(viper.GetString("source.path"), &fasthttp.Client{})
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	logger := newLogger()
	defer logger.Sync()

	reader, err := geowarp.NewCoverageReader(src,
		geowarp.Rectangle{Width: width, Height: height}, env, interp)
	if err != nil {
		return fmt.Errorf("building reader: %w", err)
	}
	reader.SetLogger(logger)

	handler, err := geowarp.FindHandler(env, src.CRS(), viper.GetBool("render.wrap"))
	if err != nil {
		return fmt.Errorf("building projection handler: %w", err)
	}

	var coverages []*geowarp.Coverage
	if workers := viper.GetInt("read.workers"); workers > 1 {
		coverages, err = reader.ReadCoveragesConcurrent(handler, workers)
	} else {
		coverages, err = reader.ReadCoverages(handler)
	}
	if err != nil {
		return fmt.Errorf("reading coverages: %w", err)
	}

	fmt.Printf("source:    %s (%s)\n", viper.GetString("source.path"), src.CRS())
	fmt.Printf("extent:    %v\n", src.OriginalEnvelope().Bound)
	fmt.Printf("coverages: %d\n", len(coverages))
	for i, c := range coverages {
		fmt.Printf("  [%d] %dx%d px, %d band(s), %.6g,%.6g -> %.6g,%.6g\n",
			i, c.Width, c.Height, c.Bands,
			c.Bounds.Min[0], c.Bounds.Min[1], c.Bounds.Max[0], c.Bounds.Max[1])
	}
	return nil
}
