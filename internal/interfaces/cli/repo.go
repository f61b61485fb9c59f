package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/ChargeAssign/internal/app"
	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/application/repository"
	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/redis"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/format/lgf"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/storage/archive"
	"github.com/turtacn/ChargeAssign/pkg/errors"
)

const publishLockName = "repository:publish"

// NewRepoCmd creates the repo command group.
func NewRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Build and maintain the reference charge repository",
	}
	cmd.AddCommand(
		newRepoBuildCmd(),
		newRepoAddCmd(),
		newRepoRemoveCmd(),
		newRepoInfoCmd(),
		newRepoExportCmd(),
		newRepoMigrateCmd(),
	)
	return cmd
}

type repoBuildOptions struct {
	minShell int
	maxShell int
	out      string
	publish  bool
}

func newRepoBuildCmd() *cobra.Command {
	opts := &repoBuildOptions{}
	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Build a repository from a directory of charged <molid>.lgf files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoBuild(cmd, args[0], opts)
		},
	}
	cmd.Flags().IntVar(&opts.minShell, "min-shell", 0, "smallest shell (default: repository.min_shell)")
	cmd.Flags().IntVar(&opts.maxShell, "max-shell", 0, "largest shell (default: repository.max_shell)")
	cmd.Flags().StringVar(&opts.out, "out", "", "archive to write (default: repository.path unless --publish)")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "store the result in the configured repository source")
	return cmd
}

func runRepoBuild(cmd *cobra.Command, dir string, opts *repoBuildOptions) error {
	cliCtx, cfg, err := contextAndConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	defer cancel()

	minShell, maxShell := cfg.Repository.MinShell, cfg.Repository.MaxShell
	if opts.minShell > 0 {
		minShell = opts.minShell
	}
	if opts.maxShell > 0 {
		maxShell = opts.maxShell
	}

	classifier, err := app.NewClassifier(cfg.Classifier)
	if err != nil {
		return err
	}
	b, err := repository.NewBuilder(classifier, minShell, maxShell, cliCtx.Logger.Named("builder"),
		repository.WithWorkers(cfg.Repository.BuildWorkers))
	if err != nil {
		return err
	}
	ids, err := b.AddDir(ctx, dir)
	if err != nil {
		return err
	}
	d := b.Dataset()

	out := opts.out
	if out == "" && !opts.publish {
		out = cfg.Repository.Path
	}
	if err := publish(ctx, cfg, cliCtx.Logger, d, out, opts.publish); err != nil {
		return err
	}
	PrintSuccess(cmd, fmt.Sprintf("built repository of %d molecules, shells %d..%d", len(ids), minShell, maxShell))
	return nil
}

// publish writes d to the archive at out and, when toSource is set, to the
// configured repository source. With Redis enabled the writes hold a
// cluster-wide lock.
func publish(ctx context.Context, cfg *config.Config, logger logging.Logger, d *candidate.Dataset, out string, toSource bool) error {
	var sinks []repository.Sink
	if out != "" {
		sinks = append(sinks, repository.FileStore{Path: out})
	}
	if toSource {
		stores, err := app.OpenStores(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stores.Close()
		if fs, ok := stores.Sink.(repository.FileStore); !ok || fs.Path != out {
			sinks = append(sinks, stores.Sink)
		}
	}

	var lock repository.Locker
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis, logger.Named("redis"))
		if err != nil {
			return err
		}
		defer client.Close()
		lock = redis.NewLockFactory(client, logger).NewMutex(publishLockName)
	}
	return repository.NewPublisher(lock, logger.Named("publisher"), sinks...).Publish(ctx, d)
}

type repoEditOptions struct {
	archive string
	out     string
}

func (o *repoEditOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.archive, "archive", "", "archive to update (default: repository.path)")
	cmd.Flags().StringVar(&o.out, "out", "", "write the result here instead of over the archive")
}

func (o *repoEditOptions) paths(cfg *config.Config) (string, string) {
	in := o.archive
	if in == "" {
		in = cfg.Repository.Path
	}
	out := o.out
	if out == "" {
		out = in
	}
	return in, out
}

func newRepoAddCmd() *cobra.Command {
	opts := &repoEditOptions{}
	cmd := &cobra.Command{
		Use:   "add <molid.lgf> [...]",
		Short: "Add charged molecules to a repository archive",
		Long:  "Add charged molecules to a repository archive. The molecule id is taken\nfrom the file name, which must be <molid>.lgf. An id already present is\nreplaced.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoAdd(cmd, args, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func runRepoAdd(cmd *cobra.Command, files []string, opts *repoEditOptions) error {
	cliCtx, cfg, err := contextAndConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	defer cancel()

	in, out := opts.paths(cfg)
	d, err := archive.ReadFile(in)
	if err != nil {
		return err
	}
	classifier, err := app.NewClassifier(cfg.Classifier)
	if err != nil {
		return err
	}
	b, err := repository.ResumeBuilder(classifier, d, cliCtx.Logger.Named("builder"))
	if err != nil {
		return err
	}

	for _, file := range files {
		molid, err := molidOf(file)
		if err != nil {
			return err
		}
		f, err := os.Open(file)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "failed to open molecule").WithDetail(file)
		}
		mol, err := lgf.Decode(f)
		f.Close()
		if err != nil {
			return err
		}
		if n := b.Remove(molid); n > 0 {
			cliCtx.Logger.Info("Replacing molecule", logging.Int("molid", molid), logging.Int("observations", n))
		}
		if err := b.Add(ctx, molid, mol); err != nil {
			return err
		}
	}

	if err := archive.WriteFile(out, b.Dataset()); err != nil {
		return err
	}
	PrintSuccess(cmd, fmt.Sprintf("added %d molecules to %s", len(files), out))
	return nil
}

func molidOf(path string) (int, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".lgf")
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 || !strings.HasSuffix(path, ".lgf") {
		return 0, errors.InvalidParam("molecule file must be named <molid>.lgf").WithDetail(path)
	}
	return id, nil
}

func newRepoRemoveCmd() *cobra.Command {
	opts := &repoEditOptions{}
	cmd := &cobra.Command{
		Use:   "remove <molid> [...]",
		Short: "Remove molecules from a repository archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoRemove(cmd, args, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func runRepoRemove(cmd *cobra.Command, args []string, opts *repoEditOptions) error {
	cliCtx, cfg, err := contextAndConfig(cmd)
	if err != nil {
		return err
	}
	ids := make([]int, len(args))
	for i, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return errors.InvalidParam("molecule id must be an integer").WithDetail(a)
		}
		ids[i] = id
	}

	in, out := opts.paths(cfg)
	d, err := archive.ReadFile(in)
	if err != nil {
		return err
	}
	classifier, err := app.NewClassifier(cfg.Classifier)
	if err != nil {
		return err
	}
	b, err := repository.ResumeBuilder(classifier, d, cliCtx.Logger.Named("builder"))
	if err != nil {
		return err
	}

	removed := 0
	for _, id := range ids {
		n := b.Remove(id)
		if n == 0 {
			cliCtx.Logger.Warn("Molecule not in repository", logging.Int("molid", id))
			continue
		}
		removed++
	}
	if err := archive.WriteFile(out, b.Dataset()); err != nil {
		return err
	}
	PrintSuccess(cmd, fmt.Sprintf("removed %d of %d molecules from %s", removed, len(ids), out))
	return nil
}

func newRepoInfoCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoInfo(cmd, path)
		},
	}
	cmd.Flags().StringVar(&path, "archive", "", "archive to describe (default: the configured source)")
	return cmd
}

func runRepoInfo(cmd *cobra.Command, path string) error {
	cliCtx, cfg, err := contextAndConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	defer cancel()

	repo, err := loadRepository(ctx, cfg, path, cliCtx.Logger)
	if err != nil {
		return err
	}
	info := charging.InfoToWire(repo.Info())

	w := cmd.OutOrStdout()
	if cliCtx.OutputFormat == OutputJSON {
		return printJSON(w, info)
	}
	fmt.Fprintf(w, "Molecules:  %d\nShells:     %d..%d\nResolution: %g\nOverrides:  %d\n",
		info.Molecules, info.MinShell, info.MaxShell, info.Resolution, info.Overrides)
	if info.Oracle != "" {
		fmt.Fprintf(w, "Oracle:     %s\n", info.Oracle)
	}
	for _, mode := range sortedKeys(info.IsomorphGroups) {
		fmt.Fprintf(w, "Isomorph groups (%s): %d\n", mode, info.IsomorphGroups[mode])
	}

	keys := sortedKeys(info.Signatures)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, strconv.Itoa(info.Signatures[k]), strconv.Itoa(info.Observations[k])}
	}
	fmt.Fprint(w, "\n"+FormatTable([]string{"Table", "Signatures", "Observations"}, rows))
	return nil
}

func newRepoExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <archive>",
		Short: "Write the configured repository source to an archive file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, cfg, err := contextAndConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.WithTimeout(cmd.Context())
			defer cancel()

			d, err := loadDataset(ctx, cfg, "", cliCtx.Logger)
			if err != nil {
				return err
			}
			if err := archive.WriteFile(args[0], d); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("exported %d molecules to %s", len(d.Molecules()), args[0]))
			return nil
		},
	}
	return cmd
}

func contextAndConfig(cmd *cobra.Command) (*CLIContext, *config.Config, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := cliCtx.Config()
	if err != nil {
		return nil, nil, err
	}
	return cliCtx, cfg, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
