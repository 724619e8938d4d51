package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/jpfielding/raster.go/pkg/source"
	"github.com/spf13/cobra"
)

// inputFlags registers the flags openInput reads.
func inputFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringP("uri", "u", "", "image URI: a path, file://path, http(s) URL or - for stdin")
	pf.Bool("insecure", false, "skip TLS verification for https inputs")
	pf.BoolP("verbose", "v", false, "dump http request and response headers to stderr")
}

// inputURI returns --uri or the first positional argument.
func inputURI(cmd *cobra.Command, args []string) (string, error) {
	uri, _ := cmd.Flags().GetString("uri")
	if uri == "" && len(args) > 0 {
		uri = args[0]
	}
	if uri == "" {
		return "", fmt.Errorf("image URI is required. Use --uri flag or provide as argument")
	}
	return uri, nil
}

// openInput resolves uri to a source. Files are read in place; stdin and
// http bodies are buffered in memory so the codecs can seek.
func openInput(ctx context.Context, cmd *cobra.Command, uri string) (raster.Source, error) {
	uri = strings.TrimPrefix(uri, "file://")
	switch {
	case uri == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %v", err)
		}
		return source.NewMemory(data), nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		insecure, _ := cmd.Flags().GetBool("insecure")
		cl := &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure}},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %v", err)
		}
		resp, err := cl.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download: %v", err)
		}
		defer resp.Body.Close()
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			reqDump, _ := httputil.DumpRequest(req, true)
			cmd.ErrOrStderr().Write(reqDump)
			resDump, _ := httputil.DumpResponse(resp, false)
			cmd.ErrOrStderr().Write(resDump)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to download: %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to download: %v", err)
		}
		return source.NewMemory(data), nil
	default:
		return source.NewFile(uri), nil
	}
}

// outputTarget returns the destination for path, buffering stdout writes
// in memory. flush copies the buffer to stdout and is a no-op for files.
func outputTarget(cmd *cobra.Command, path string) (dst raster.Source, flush func() error) {
	if path != "-" {
		return source.NewFile(path), func() error { return nil }
	}
	mem := source.NewMemory(nil)
	return mem, func() error {
		_, err := cmd.OutOrStdout().Write(mem.Bytes())
		return err
	}
}
