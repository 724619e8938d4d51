package cmd

import (
	"context"
	"fmt"

	"github.com/jpfielding/raster.go/pkg/format"
	"github.com/spf13/cobra"
)

// NewIdentifyCmd prints the format of each input without decoding it.
func NewIdentifyCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identify [uri...]",
		Short: "Report the format of image files",
		Long:  "Reads the leading bytes of each input and names the matching format, or unknown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, _ := cmd.Flags().GetString("uri")
			if uri != "" {
				args = append([]string{uri}, args...)
			}
			if len(args) == 0 {
				return fmt.Errorf("image URI is required. Use --uri flag or provide as argument")
			}
			var firstErr error
			for _, a := range args {
				f, err := identify(ctx, cmd, a)
				if err != nil && firstErr == nil {
					firstErr = err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", a, f)
			}
			return firstErr
		},
	}
	inputFlags(cmd)
	return cmd
}

func identify(ctx context.Context, cmd *cobra.Command, uri string) (format.Format, error) {
	src, err := openInput(ctx, cmd, uri)
	if err != nil {
		return format.Unknown, err
	}
	if err := src.OpenToRead(); err != nil {
		return format.Unknown, err
	}
	defer src.Close()
	return format.Identify(src)
}
