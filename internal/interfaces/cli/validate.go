package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/ChargeAssign/internal/app"
	"github.com/turtacn/ChargeAssign/internal/application/validation"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

type validateOptions struct {
	archive string
	iacm    bool
	shells  []int
	bucket  int
	buckets int
	report  string
}

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <dir>",
		Short: "Cross-validate the repository against its reference molecules",
		Long: "Charge every <molid>.lgf in dir from the repository with that molecule\n" +
			"and its isomorphs left out, and report the errors against the\n" +
			"reference charges. --bucket and --buckets split the run so that the\n" +
			"reports of all buckets can be combined with \"validate merge\".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.archive, "archive", "", "repository archive (default: the configured source)")
	f.BoolVar(&opts.iacm, "iacm", true, "keep IACM atom types; false reduces molecules to elements")
	f.IntSliceVar(&opts.shells, "shells", nil, "shells to try, largest first (default: every repository shell)")
	f.IntVar(&opts.bucket, "bucket", 0, "only test molecules with molid % buckets == bucket")
	f.IntVar(&opts.buckets, "buckets", 0, "number of buckets; 0 tests every molecule")
	f.StringVar(&opts.report, "report", "", "also write the JSON report to this file")

	cmd.AddCommand(newValidateMergeCmd())
	return cmd
}

func runValidate(cmd *cobra.Command, dir string, opts *validateOptions) error {
	if opts.buckets > 0 && (opts.bucket < 0 || opts.bucket >= opts.buckets) {
		return errors.InvalidParam("--bucket must be in [0, --buckets)").WithDetail(strconv.Itoa(opts.bucket))
	}
	cliCtx, cfg, err := contextAndConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	defer cancel()

	pipeline, err := app.NewPipeline(cfg, cliCtx.Logger)
	if err != nil {
		return err
	}
	repo, err := loadRepository(ctx, cfg, opts.archive, cliCtx.Logger)
	if err != nil {
		return err
	}

	v := validation.NewValidator(pipeline, cliCtx.Logger.Named("validation"),
		validation.WithWorkers(cfg.Repository.BuildWorkers))
	report, err := v.CrossValidate(ctx, repo, dir, validation.Options{
		IACM:    opts.iacm,
		Shells:  opts.shells,
		Bucket:  opts.bucket,
		Buckets: opts.buckets,
	})
	if err != nil {
		return err
	}

	if opts.report != "" {
		if err := writeReportFile(opts.report, report); err != nil {
			return err
		}
	}
	return printReport(cmd.OutOrStdout(), cliCtx.OutputFormat, report)
}

func newValidateMergeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "merge <report.json> [...]",
		Short: "Combine the reports of several validation buckets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			merged := validation.NewReport()
			for _, path := range args {
				r, err := readReportFile(path)
				if err != nil {
					return err
				}
				merged.Merge(r)
			}
			if out != "" {
				if err := writeReportFile(out, merged); err != nil {
					return err
				}
			}
			return printReport(cmd.OutOrStdout(), cliCtx.OutputFormat, merged)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "also write the merged JSON report to this file")
	return cmd
}

func readReportFile(path string) (*validation.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "failed to open report").WithDetail(path)
	}
	defer f.Close()
	return validation.ReadReport(f)
}

func writeReportFile(path string, r *validation.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeUnknown, "failed to create report").WithDetail(path)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printReport(w io.Writer, format string, r *validation.Report) error {
	if format == OutputJSON {
		return r.WriteJSON(w)
	}

	rows := make([][]string, 0, len(validation.Categories))
	for _, c := range validation.Categories {
		a := r.PerAtom[c]
		if a == nil || a.TotalAtoms == 0 {
			continue
		}
		rows = append(rows, []string{
			c,
			strconv.Itoa(a.TotalAtoms),
			fmt.Sprintf("%.4f", a.MAE()),
			fmt.Sprintf("%.4f", a.MSE()),
			colorizeRMSE(a.RMSE()),
		})
	}
	fmt.Fprint(w, FormatTable([]string{"Element", "Atoms", "MAE", "MSE", "RMSE"}, rows))

	m := r.PerMolecule
	fmt.Fprintf(w, "\nMolecules: %d  Warnings: %d\n", m.TotalMolecules, r.Warnings)
	fmt.Fprintf(w, "Total charge error: mean |err| %.4f  RMS %.4f\n", m.MeanAbsTotalErr(), m.RMSTotalErr())
	fmt.Fprintf(w, "Mean solve time: %.3fs\n", m.MeanTime())
	return nil
}

func colorizeRMSE(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	switch {
	case v >= 0.1:
		return color.RedString(s)
	case v >= 0.05:
		return color.YellowString(s)
	default:
		return color.GreenString(s)
	}
}
