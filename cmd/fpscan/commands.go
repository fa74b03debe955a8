package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gofingerprint/adapters/provenance"
	"gofingerprint/adapters/report"
	"gofingerprint/app"
	"gofingerprint/domain/core"
	"gofingerprint/internal/ablation"
	"gofingerprint/internal/errors"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var env envFlags
	var primary, replication datasetFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze a primary and a replication dataset and apply the verdict rule",
		Long: `Verify provenance, analyze both datasets under the pre-registered plan and
combine them. PASS requires every checklist criterion.

Example: fpscan run --plan plan.yaml --manifest manifest.json \
    --obs planck.txt --model planck_model.txt --cov planck_cov.bin \
    --replication-key wmap --replication-obs wmap.txt --replication-model wmap_model.txt \
    --out results/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := primary.files()
			if err != nil {
				return err
			}
			r, err := replication.files()
			if err != nil {
				return err
			}

			svc := app.NewAnalysisService(e.inputs, e.store, e.streams, e.metrics, version)
			res, err := svc.Run(cmd.Context(), app.RunRequest{
				Config:      e.cfg,
				Primary:     p,
				Replication: r,
				OutDir:      env.out,
			})
			if err != nil {
				return err
			}
			if env.out == "" {
				fmt.Print(report.RunMarkdown(res.Record))
				return nil
			}
			c := res.Record.Combined
			fmt.Printf("%s: %s\n", res.Record.Manifest.RunID, c.Status)
			for _, crit := range c.Criteria {
				fmt.Printf("  %-26s required %-22s observed %s\n", crit.Name, crit.Required, crit.Observed)
			}
			fmt.Printf("Report: %s\n", res.Reports.HTML)
			return nil
		},
	}
	env.bind(cmd)
	primary.bind(cmd, "", "primary")
	replication.bind(cmd, "replication-", "replication")
	return cmd
}

func newAblateCmd() *cobra.Command {
	var env envFlags
	var ds datasetFlags
	var channels []string
	var sweeps string
	var target, concurrency int

	cmd := &cobra.Command{
		Use:   "ablate",
		Short: "Run robustness sweeps over one dataset",
		Long: `Re-run the analysis over disjoint ℓ-range subsets, every whitening mode,
synthetic null ensembles and alternate channels. Interrupting the command
keeps and stores the sub-runs completed so far.

Channels are given as key=obs,model[,cov].

Example: fpscan ablate --plan plan.yaml --manifest manifest.json \
    --obs planck_tt.txt --model planck_tt_model.txt --cov planck_tt_cov.bin \
    --channel ee=planck_ee.txt,planck_ee_model.txt --sweeps subsets,modes,channels`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSweeps(sweeps)
			if err != nil {
				return err
			}
			files, err := ds.files()
			if err != nil {
				return err
			}
			var chans []app.DatasetFiles
			for _, spec := range channels {
				ch, err := parseChannel(spec)
				if err != nil {
					return err
				}
				chans = append(chans, ch)
			}

			e, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc := app.NewAblationService(e.inputs, e.store, e.streams, e.metrics)
			rep, err := svc.Ablate(cmd.Context(), app.AblationRequest{
				Config:       e.cfg,
				Dataset:      files,
				Channels:     chans,
				TargetPeriod: target,
				Sweeps:       sel,
				Concurrency:  concurrency,
				OutDir:       env.out,
			})
			if rep != nil {
				fmt.Print(report.AblationMarkdown(rep))
			}
			return err
		},
	}
	env.bind(cmd)
	ds.bind(cmd, "", "primary")
	cmd.Flags().StringArrayVar(&channels, "channel", nil, "Alternate channel as key=obs,model[,cov] (repeatable)")
	cmd.Flags().StringVar(&sweeps, "sweeps", "subsets,modes,ensembles,channels", "Comma-separated sweeps to run")
	cmd.Flags().IntVar(&target, "target", 0, "Target period (default: baseline best period)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Sub-runs in flight")
	return cmd
}

func newCalibrateCmd() *cobra.Command {
	var env envFlags
	var ds datasetFlags
	var ensembles, concurrency int

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure the false-positive rate on synthetic null datasets",
		Long: `Draw synthetic datasets from the model and noise of one dataset, run each
through the pipeline and compare the fraction with p < alpha to alpha.

Example: fpscan calibrate --plan plan.yaml --obs planck.txt --model planck_model.txt --ensembles 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := ds.files()
			if err != nil {
				return err
			}
			e, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc := app.NewAblationService(e.inputs, e.store, e.streams, e.metrics)
			rep, err := svc.Calibrate(cmd.Context(), app.CalibrationRequest{
				Config:      e.cfg,
				Dataset:     files,
				Ensembles:   ensembles,
				Concurrency: concurrency,
				OutDir:      env.out,
			})
			if rep != nil && rep.Ensembles != nil {
				s := rep.Ensembles
				fmt.Printf("false positives %d/%d = %.4f, 95%% CI [%.4f, %.4f], alpha %.4f, consistent: %t\n",
					s.FalsePositives, s.Completed, s.Rate, s.Lower, s.Upper, s.Alpha, s.Consistent)
			}
			return err
		},
	}
	env.bind(cmd)
	ds.bind(cmd, "", "primary")
	cmd.Flags().IntVar(&ensembles, "ensembles", 0, "Synthetic datasets (default from plan)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Synthetic datasets in flight")
	return cmd
}

func newHashCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "hash [key=]file...",
		Short: "Fingerprint files into a provenance manifest",
		Long: `Compute size and SHA-256 of each file for pre-registration. Without an
explicit key the file name without extension is used. Register models and
covariances as <key>.model and <key>.cov.

Example: fpscan hash planck=planck.txt planck.model=planck_model.txt --out manifest.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make(map[string]string, len(args))
			for _, arg := range args {
				key, path, ok := strings.Cut(arg, "=")
				if !ok {
					path = arg
					key = strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
				}
				if _, dup := files[key]; dup {
					return errors.ConfigInvalid(fmt.Sprintf("duplicate manifest key %q", key))
				}
				files[key] = path
			}
			m, err := provenance.Build(files)
			if err != nil {
				return err
			}
			if out != "" {
				if err := provenance.WriteManifest(out, m); err != nil {
					return err
				}
				fmt.Printf("Wrote %d entries to %s\n", len(m.Datasets), out)
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the manifest here instead of stdout")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var manifest, key string

	cmd := &cobra.Command{
		Use:   "verify --manifest m.json --key k file",
		Short: "Check a file against its provenance manifest entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := provenance.Open(manifest)
			if err != nil {
				return err
			}
			if key == "" {
				key = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			fp, err := v.Verify(cmd.Context(), key, args[0])
			if err != nil {
				return err
			}
			printFingerprint(fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "Provenance manifest (JSON)")
	cmd.Flags().StringVar(&key, "key", "", "Dataset key (default: file name without extension)")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var env envFlags
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List stored runs, or show one run's verdict summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.storeDSN == "" {
				return errors.ConfigInvalid("history needs --store or FP_STORE")
			}
			e, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 1 {
				id, err := core.ParseRunID(args[0])
				if err != nil {
					return errors.ConfigInvalid(err.Error())
				}
				rec, err := e.store.GetRun(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Print(report.RunMarkdown(rec))
				return nil
			}
			runs, err := e.store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, m := range runs {
				fmt.Printf("%s\t%s\t%s\tseed=%d\t%s\n",
					m.RunID, m.CreatedAt.Time().Format("2006-01-02 15:04:05"), m.Name, m.Seed, m.Fingerprint.Fingerprint.Short())
				for _, d := range m.Datasets {
					fmt.Print("  ")
					printFingerprint(d)
				}
			}
			return nil
		},
	}
	env.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")
	return cmd
}

func parseSweeps(s string) (ablation.Sweeps, error) {
	var out ablation.Sweeps
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "subsets":
			out.Subsets = true
		case "modes":
			out.Modes = true
		case "ensembles":
			out.Ensembles = true
		case "channels":
			out.Channels = true
		case "":
		default:
			return out, errors.ConfigInvalid(fmt.Sprintf("unknown sweep %q (want subsets, modes, ensembles, channels)", name))
		}
	}
	if out == (ablation.Sweeps{}) {
		return out, errors.ConfigInvalid("no sweeps selected")
	}
	return out, nil
}

func parseChannel(s string) (app.DatasetFiles, error) {
	key, rest, ok := strings.Cut(s, "=")
	parts := strings.Split(rest, ",")
	if !ok || key == "" || len(parts) < 2 || len(parts) > 3 {
		return app.DatasetFiles{}, errors.ConfigInvalid(fmt.Sprintf("channel %q: want key=obs,model[,cov]", s))
	}
	f := app.DatasetFiles{Key: key, Observation: parts[0], Model: parts[1]}
	if len(parts) == 3 {
		f.Covariance = parts[2]
	}
	return f, nil
}
