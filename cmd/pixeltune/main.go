package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/editor"
	"github.com/dunamismax/pixeltune/internal/filter"
	"github.com/dunamismax/pixeltune/internal/imageio"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	logger := log.New(os.Stderr, "[pixeltune] ", log.LstdFlags|log.Lmsgprefix)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logger, os.Stdout).ExecuteContext(ctx); err != nil {
		logger.Fatal(err)
	}
}

type adjustmentFlags struct {
	brightness int
	contrast   int
	saturation int
	blur       int
	filter     string
}

func (f *adjustmentFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.brightness, "brightness", domain.DefaultPercent, "Brightness percentage (0-200)")
	cmd.Flags().IntVar(&f.contrast, "contrast", domain.DefaultPercent, "Contrast percentage (0-200)")
	cmd.Flags().IntVar(&f.saturation, "saturation", domain.DefaultPercent, "Saturation percentage (0-200)")
	cmd.Flags().IntVar(&f.blur, "blur", 0, "Blur radius in pixels (0-100)")
	cmd.Flags().StringVar(&f.filter, "filter", string(domain.FilterNormal), "Named filter: "+filterNames())
}

func (f *adjustmentFlags) adjustments() (domain.Adjustments, error) {
	named, err := domain.ParseNamedFilter(f.filter)
	if err != nil {
		return domain.Adjustments{}, err
	}
	a := domain.Adjustments{
		Brightness: f.brightness,
		Contrast:   f.contrast,
		Saturation: f.saturation,
		Blur:       f.blur,
		Filter:     named,
	}
	if err := a.Validate(); err != nil {
		return domain.Adjustments{}, err
	}
	return a, nil
}

func (f *adjustmentFlags) patch() domain.AdjustmentPatch {
	named := domain.NamedFilter(f.filter)
	return domain.AdjustmentPatch{
		Brightness: &f.brightness,
		Contrast:   &f.contrast,
		Saturation: &f.saturation,
		Blur:       &f.blur,
		Filter:     &named,
	}
}

func filterNames() string {
	names := domain.NamedFilters()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

func newRootCmd(logger *log.Logger, out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pixeltune",
		Long:          `Apply brightness, contrast, saturation, blur and named filters to images`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(newEditCmd(logger), newComposeCmd(), newFiltersCmd())
	return rootCmd
}

func newEditCmd(logger *log.Logger) *cobra.Command {
	var (
		flags     adjustmentFlags
		inPath    string
		outPath   string
		maxPixels int
	)

	cmd := &cobra.Command{
		Use:   "edit --in <file> [--out <file>] [adjustments]",
		Short: "Render an image with the given adjustments and write it as PNG",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEdit(cmd.Context(), logger, inPath, outPath, maxPixels, flags.patch())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&inPath, "in", "", "Source image (PNG, JPEG, GIF, BMP, TIFF or WebP)")
	cmd.Flags().StringVar(&outPath, "out", imageio.ExportFilename, "Destination PNG")
	cmd.Flags().IntVar(&maxPixels, "max-pixels", imageio.DefaultMaxPixels, "Reject sources larger than this many pixels")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func runEdit(ctx context.Context, logger *log.Logger, inPath, outPath string, maxPixels int, patch domain.AdjustmentPatch) error {
	c, err := editor.New(editor.WithLimits(imageio.Limits{MaxPixels: maxPixels}))
	if err != nil {
		return err
	}
	state, err := c.Apply(patch)
	if err != nil {
		return err
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	start := time.Now()
	info, err := c.Load(ctx, in)
	if err != nil {
		return fmt.Errorf("load %s: %w", inPath, err)
	}

	if err := writeExport(ctx, c, outPath); err != nil {
		return err
	}

	written, err := os.Stat(outPath)
	if err != nil {
		return err
	}
	logger.Printf(
		"wrote %s %dx%d format=%s size=%s filter=%q took=%s",
		outPath,
		info.Width,
		info.Height,
		info.Format,
		humanize.Bytes(uint64(written.Size())),
		state.Expression,
		time.Since(start).Round(time.Millisecond),
	)
	return nil
}

type exporter interface {
	Export(ctx context.Context, w io.Writer) (editor.ImageInfo, error)
}

// writeExport encodes into outPath and removes the file again if encoding or
// closing fails.
func writeExport(ctx context.Context, src exporter, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := src.Export(ctx, out); err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return fmt.Errorf("export: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func newComposeCmd() *cobra.Command {
	var flags adjustmentFlags

	cmd := &cobra.Command{
		Use:   "compose [adjustments]",
		Short: "Print the filter expression for the given adjustments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.adjustments()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), filter.Compose(a))
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newFiltersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "List the named filters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLABEL\tAPPENDS")
			for _, p := range filter.Presets() {
				suffix := p.Suffix
				if suffix == "" {
					suffix = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Label, suffix)
			}
			return tw.Flush()
		},
	}
}
