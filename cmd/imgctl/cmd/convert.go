package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jpfielding/raster.go/pkg/format"
	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/spf13/cobra"
)

// optionFlags registers --opt for codec settings.
func optionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringToString("opt", nil, "codec option key=value, e.g. png.filter=paeth, jpeg.quality=90, ppm.depth=16")
}

func optionsFlag(cmd *cobra.Command) raster.Options {
	opts, _ := cmd.Flags().GetStringToString("opt")
	return raster.Options(opts)
}

var colorSpaces = map[string]raster.ColorSpace{
	"gray":      raster.Gray,
	"grayalpha": raster.GrayAlpha,
	"rgb":       raster.RGB,
	"rgba":      raster.RGBA,
	"ycbcr":     raster.YCbCr,
}

// NewConvertCmd decodes an image and writes it in another format.
func NewConvertCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [uri]",
		Short: "Convert an image to another format",
		Long:  "Decodes the input and encodes it to --out. The output format comes from --to or the extension of --out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := inputURI(cmd, args)
			if err != nil {
				return err
			}
			outPath, _ := cmd.Flags().GetString("out")
			if outPath == "" {
				return fmt.Errorf("output path is required. Use --out (- for stdout)")
			}
			to, _ := cmd.Flags().GetString("to")
			var f format.Format
			if to != "" {
				f, err = format.ByName(to)
			} else {
				f, err = format.ByExtension(outPath)
			}
			if err != nil {
				return err
			}

			src, err := openInput(ctx, cmd, uri)
			if err != nil {
				return err
			}
			opts := optionsFlag(cmd)
			buf, from, err := format.Decode(ctx, src, opts)
			if err != nil {
				return fmt.Errorf("decode %s: %w", uri, err)
			}
			if cs, _ := cmd.Flags().GetString("color-space"); cs != "" {
				target, ok := colorSpaces[strings.ToLower(cs)]
				if !ok {
					return fmt.Errorf("color space %q: %w", cs, raster.ErrUnsupportedFeature)
				}
				if target == raster.YCbCr && buf.Depth != 8 {
					if buf, err = buf.WithDepth(8); err != nil {
						return err
					}
				}
				if buf, err = buf.Convert(target); err != nil {
					return err
				}
			}
			if depth, _ := cmd.Flags().GetInt("depth"); depth > 0 {
				if buf, err = buf.WithDepth(depth); err != nil {
					return err
				}
			}

			dst, flush := outputTarget(cmd, outPath)
			if err := format.Encode(ctx, buf, dst, f, opts); err != nil {
				return fmt.Errorf("encode %s: %w", outPath, err)
			}
			slog.InfoContext(ctx, "converted",
				slog.String("from", from.String()),
				slog.String("to", f.String()),
				slog.String("image", buf.String()),
				slog.String("out", outPath))
			return flush()
		},
	}
	inputFlags(cmd)
	optionFlags(cmd)
	pf := cmd.PersistentFlags()
	pf.StringP("out", "o", "", "output path, or - for stdout")
	pf.StringP("to", "t", "", "output format (jpeg|png|bmp|ppm); defaults to the extension of --out")
	pf.String("color-space", "", "convert samples before encoding (gray|grayalpha|rgb|rgba|ycbcr)")
	pf.Int("depth", 0, "rescale samples to this bit depth before encoding")
	return cmd
}
