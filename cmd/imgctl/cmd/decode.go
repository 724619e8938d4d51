package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/jpfielding/raster.go/pkg/format"
	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/spf13/cobra"
)

// summary is what decode reports about an image.
type summary struct {
	URI         string            `json:"uri"`
	Format      string            `json:"format"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	ColorSpace  string            `json:"colorSpace"`
	Depth       int               `json:"depth"`
	Bytes       int               `json:"bytes"`
	Fingerprint string            `json:"fingerprint"`
	Min         []int             `json:"min"`
	Max         []int             `json:"max"`
	Meta        map[string]string `json:"meta,omitempty"`
}

func summarize(uri string, f format.Format, buf *raster.Buffer) summary {
	n := buf.ColorSpace.Components()
	s := summary{
		URI:         uri,
		Format:      f.String(),
		Width:       buf.Width,
		Height:      buf.Height,
		ColorSpace:  buf.ColorSpace.String(),
		Depth:       buf.Depth,
		Bytes:       len(buf.Data),
		Fingerprint: buf.Fingerprint(),
		Min:         make([]int, n),
		Max:         make([]int, n),
		Meta:        buf.Meta,
	}
	for c := range s.Min {
		s.Min[c] = buf.MaxValue()
	}
	for i := 0; i < buf.Samples(); i++ {
		v := buf.Sample(i)
		s.Min[i%n] = min(s.Min[i%n], v)
		s.Max[i%n] = max(s.Max[i%n], v)
	}
	return s
}

// NewDecodeCmd decodes an image and reports its geometry, channel ranges
// and metadata.
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [uri]",
		Short: "Decode an image and describe it",
		Long:  "Decodes the input fully and prints its format, geometry, per channel sample range, fingerprint and metadata.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := inputURI(cmd, args)
			if err != nil {
				return err
			}
			src, err := openInput(ctx, cmd, uri)
			if err != nil {
				return err
			}
			buf, f, err := format.Decode(ctx, src, optionsFlag(cmd))
			if err != nil {
				return fmt.Errorf("decode %s: %w", uri, err)
			}
			slog.DebugContext(ctx, "decoded", slog.String("uri", uri), slog.String("image", buf.String()))

			if dump, _ := cmd.Flags().GetString("dump"); dump != "" {
				slog.InfoContext(ctx, "dumping samples", slog.String("path", dump), slog.Int("bytes", len(buf.Data)))
				if err := os.WriteFile(dump, buf.Data, 0644); err != nil {
					return err
				}
			}

			s := summarize(uri, f, buf)
			out := cmd.OutOrStdout()
			switch outType, _ := cmd.Flags().GetString("format"); outType {
			case "text":
				fmt.Fprintf(out, "uri: %s\nformat: %s\nsize: %dx%d\ncolor space: %s\ndepth: %d\nbytes: %d\nfingerprint: %s\nmin: %v\nmax: %v\n",
					s.URI, s.Format, s.Width, s.Height, s.ColorSpace, s.Depth, s.Bytes, s.Fingerprint, s.Min, s.Max)
				keys := make([]string, 0, len(s.Meta))
				for k := range s.Meta {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "meta %s: %s\n", k, s.Meta[k])
				}
			default:
				j, _ := json.Marshal(s)
				fmt.Fprintln(out, string(j))
			}
			return nil
		},
	}
	inputFlags(cmd)
	optionFlags(cmd)
	pf := cmd.PersistentFlags()
	pf.StringP("format", "f", "json", "output format (text|json)")
	pf.String("dump", "", "write the raw decoded samples to this path")
	return cmd
}
