package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/ChargeAssign/internal/application/jobs"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/format/lgf"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/charge"
)

type chargeOptions struct {
	totalCharge float64
	shells      []int
	iacm        bool
	fallback    bool
	repository  string
	out         string
	outDir      string
	submit      bool
}

// charger is implemented by the local service and the API client alike.
type charger interface {
	charge(ctx context.Context, req *charge.Request) (*charge.Response, error)
	chargeBatch(ctx context.Context, reqs []charge.Request) (*charge.BatchResponse, error)
}

// NewChargeCmd creates the charge command.
func NewChargeCmd() *cobra.Command {
	opts := &chargeOptions{}
	cmd := &cobra.Command{
		Use:   "charge [file.lgf ...]",
		Short: "Assign partial charges to molecules",
		Long: "Charge one or more LGF molecules. With no file, or \"-\", the molecule is\n" +
			"read from stdin. Molecules are charged in-process from the configured\n" +
			"repository, by the API server given with --server, or queued for the\n" +
			"worker with --submit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCharge(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.Float64Var(&opts.totalCharge, "total-charge", 0, "integral total charge (default: the molecule's total_charge attribute)")
	f.IntSliceVar(&opts.shells, "shells", nil, "shells to try, largest first (default: charger.shells)")
	f.BoolVar(&opts.iacm, "iacm", true, "match on IACM atom types")
	f.BoolVar(&opts.fallback, "fallback", true, "fall back to plain elements when IACM matching fails")
	f.StringVar(&opts.repository, "repository", "", "repository archive to charge from (default: the configured source)")
	f.StringVar(&opts.out, "out", "", "write the charged LGF here instead of stdout")
	f.StringVar(&opts.outDir, "out-dir", "", "directory for charged LGF files when charging several molecules")
	f.BoolVar(&opts.submit, "submit", false, "queue the molecules on Kafka and print the job ids")
	return cmd
}

func runCharge(cmd *cobra.Command, args []string, opts *chargeOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	defer cancel()

	if len(args) == 0 {
		args = []string{"-"}
	}
	reqs, err := readRequests(cmd, args, opts)
	if err != nil {
		return err
	}

	if opts.submit {
		return submitJobs(ctx, cmd, cliCtx, args, reqs)
	}

	c, err := newCharger(ctx, cliCtx, opts.repository)
	if err != nil {
		return err
	}

	if len(reqs) == 1 {
		resp, err := c.charge(ctx, &reqs[0])
		if err != nil {
			return err
		}
		return writeResponse(cmd, cliCtx, resp, opts.out)
	}

	if cliCtx.OutputFormat == OutputText && opts.outDir == "" {
		return errors.InvalidParam("charging several molecules as text needs --out-dir")
	}
	batch, err := c.chargeBatch(ctx, reqs)
	if err != nil {
		return err
	}
	return writeBatch(cmd, cliCtx, args, batch, opts.outDir)
}

func readRequests(cmd *cobra.Command, args []string, opts *chargeOptions) ([]charge.Request, error) {
	var options *charge.Options
	f := cmd.Flags()
	if f.Changed("shells") || f.Changed("iacm") || f.Changed("fallback") {
		options = &charge.Options{Shells: opts.shells}
		if f.Changed("iacm") {
			options.IACM = &opts.iacm
		}
		if f.Changed("fallback") {
			options.FallbackToElements = &opts.fallback
		}
	}

	reqs := make([]charge.Request, 0, len(args))
	for _, path := range args {
		text, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return nil, err
		}
		req := charge.Request{LGF: text, Options: options}
		if f.Changed("total-charge") {
			total := opts.totalCharge
			req.TotalCharge = &total
		}
		if err := req.Validate(); err != nil {
			return nil, errors.InvalidParam(err.Error()).WithDetail(path)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidParam, "failed to read molecule").WithDetail(path)
	}
	return string(b), nil
}

func newCharger(ctx context.Context, cliCtx *CLIContext, repoPath string) (charger, error) {
	if cliCtx.ServerAddr != "" {
		c, err := cliCtx.Client()
		if err != nil {
			return nil, err
		}
		return remoteCharger{c: c}, nil
	}
	cfg, err := cliCtx.Config()
	if err != nil {
		return nil, err
	}
	svc, err := localService(ctx, cfg, repoPath, cliCtx.Logger)
	if err != nil {
		return nil, err
	}
	return localCharger{svc: svc}, nil
}

func writeResponse(cmd *cobra.Command, cliCtx *CLIContext, resp *charge.Response, out string) error {
	w := cmd.OutOrStdout()
	switch cliCtx.OutputFormat {
	case OutputJSON:
		return printJSON(w, resp)
	case OutputTable:
		fmt.Fprint(w, FormatTable([]string{"Label", "Name", "Atom Type", "Charge"}, atomRows(resp)))
		fmt.Fprintln(w, statsLine(resp))
		return nil
	}

	if out != "" {
		if err := os.WriteFile(out, []byte(resp.LGF), 0o644); err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "failed to write charged molecule").WithDetail(out)
		}
		if cliCtx.Verbose {
			fmt.Fprintln(cmd.ErrOrStderr(), statsLine(resp))
		}
		PrintSuccess(cmd, fmt.Sprintf("wrote %s", out))
		return nil
	}
	if cliCtx.Verbose {
		fmt.Fprintln(cmd.ErrOrStderr(), statsLine(resp))
	}
	_, err := io.WriteString(w, resp.LGF)
	return err
}

func writeBatch(cmd *cobra.Command, cliCtx *CLIContext, inputs []string, batch *charge.BatchResponse, outDir string) error {
	w := cmd.OutOrStdout()
	if cliCtx.OutputFormat == OutputJSON {
		return printJSON(w, batch)
	}

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "failed to create output directory").WithDetail(outDir)
		}
	}

	rows := make([][]string, 0, len(batch.Items))
	for _, item := range batch.Items {
		name := inputs[item.Index]
		if item.Error != nil {
			rows = append(rows, []string{name, color.RedString("failed"), "", "", item.Error.Error()})
			continue
		}
		res := item.Result
		note := ""
		if outDir != "" {
			base := filepath.Base(name)
			if name == "-" {
				base = strconv.Itoa(item.Index) + ".lgf"
			}
			target := filepath.Join(outDir, base)
			if err := os.WriteFile(target, []byte(res.LGF), 0o644); err != nil {
				return errors.Wrap(err, errors.CodeUnknown, "failed to write charged molecule").WithDetail(target)
			}
			note = target
		}
		rows = append(rows, []string{name, color.GreenString("charged"), res.Stats.Mode, strconv.Itoa(res.Stats.Shell), note})
	}
	fmt.Fprint(w, FormatTable([]string{"Input", "Status", "Mode", "Shell", "Detail"}, rows))
	fmt.Fprintf(w, "\nCharged: %d  Failed: %d\n", batch.Succeeded, batch.Failed)
	if batch.Failed > 0 {
		return errors.Newf(errors.CodeUnknown, "%d of %d molecules failed", batch.Failed, len(batch.Items))
	}
	return nil
}

func atomRows(resp *charge.Response) [][]string {
	rows := make([][]string, len(resp.Atoms))
	for i, a := range resp.Atoms {
		rows[i] = []string{a.Label, a.Name, a.AtomType, colorizeCharge(a.Charge)}
	}
	return rows
}

func colorizeCharge(v float64) string {
	s := lgf.FormatCharge(v)
	switch {
	case v < 0:
		return color.RedString(s)
	case v > 0:
		return color.BlueString(s)
	default:
		return s
	}
}

func statsLine(resp *charge.Response) string {
	return fmt.Sprintf("total_charge=%d mode=%s shell=%d classes=%d attempts=%d solve=%.1fms",
		resp.TotalCharge, resp.Stats.Mode, resp.Stats.Shell, resp.Stats.Classes, resp.Stats.Attempts, resp.Stats.SolveMillis)
}

func submitJobs(ctx context.Context, cmd *cobra.Command, cliCtx *CLIContext, inputs []string, reqs []charge.Request) error {
	cfg, err := cliCtx.Config()
	if err != nil {
		return err
	}
	producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), cliCtx.Logger.Named("producer"))
	if err != nil {
		return err
	}
	defer producer.Close()

	rows := make([][]string, 0, len(reqs))
	for i, req := range reqs {
		id, err := jobs.Submit(ctx, producer, cfg.Kafka.RequestTopic, "chargectl", req)
		if err != nil {
			return err
		}
		cliCtx.Logger.Debug("Submitted charge job", logging.String("job_id", id), logging.String("input", inputs[i]))
		rows = append(rows, []string{inputs[i], id})
	}

	w := cmd.OutOrStdout()
	switch cliCtx.OutputFormat {
	case OutputJSON:
		ids := make(map[string]string, len(rows))
		for _, r := range rows {
			ids[r[0]] = r[1]
		}
		return printJSON(w, ids)
	case OutputTable:
		fmt.Fprint(w, FormatTable([]string{"Input", "Job ID"}, rows))
	default:
		for _, r := range rows {
			fmt.Fprintln(w, r[1])
		}
	}
	return nil
}
