package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gofingerprint/adapters/loader"
	"gofingerprint/adapters/provenance"
	"gofingerprint/adapters/rng"
	"gofingerprint/adapters/store"
	"gofingerprint/app"
	"gofingerprint/domain/run"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/metrics"
	"gofingerprint/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=..."
var version = "dev"

// Exit codes by error class
var exitCodes = map[string]int{
	errors.CodeConfigInvalid:      2,
	errors.CodeInputInvalid:       3,
	errors.CodeProvenanceMismatch: 4,
	errors.CodeSanityFailed:       5,
	errors.CodeNumerical:          6,
	errors.CodeCancelled:          130,
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	internal.DefaultLogger = internal.NewDefaultLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logLevel, eventsPath string
	rootCmd := &cobra.Command{
		Use:           "fpscan",
		Short:         "Forensic search for periodic residuals in angular power spectra",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				internal.DefaultLogger = internal.NewLogger(internal.ParseLogLevel(strings.ToUpper(logLevel)))
			}
			if eventsPath != "" {
				f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return errors.ConfigInvalid(fmt.Sprintf("cannot open events log: %v", err))
				}
				internal.SetEventOutput(f)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ERROR|WARN|INFO|DEBUG|TRACE (default from LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&eventsPath, "events", "", "Append structured provenance events (JSON lines) to this file instead of stderr")

	rootCmd.AddCommand(
		newRunCmd(),
		newAblateCmd(),
		newCalibrateCmd(),
		newHashCmd(),
		newVerifyCmd(),
		newHistoryCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		code, ok := exitCodes[errors.GetCode(err)]
		if !ok {
			code = 1
		}
		os.Exit(code)
	}
}

// datasetFlags are the file flags for one dataset, optionally prefixed
type datasetFlags struct {
	key        string
	obs        string
	model      string
	cov        string
	obsUnits   string
	modelUnits string
}

func (d *datasetFlags) bind(cmd *cobra.Command, prefix, defaultKey string) {
	f := cmd.Flags()
	f.StringVar(&d.key, prefix+"key", defaultKey, "Dataset key, as registered in the provenance manifest")
	f.StringVar(&d.obs, prefix+"obs", "", "Observed spectrum file (text or .xlsx)")
	f.StringVar(&d.model, prefix+"model", "", "Model spectrum file")
	f.StringVar(&d.cov, prefix+"cov", "", "Covariance file (text matrix or little-endian float64 .bin)")
	f.StringVar(&d.obsUnits, prefix+"obs-units", "", "Override observation units (Dl or Cl)")
	f.StringVar(&d.modelUnits, prefix+"model-units", "", "Override model units (Dl or Cl)")
}

func (d *datasetFlags) files() (app.DatasetFiles, error) {
	obsUnits, err := spectrum.ParseUnits(d.obsUnits)
	if err != nil {
		return app.DatasetFiles{}, errors.ConfigInvalid(err.Error())
	}
	modelUnits, err := spectrum.ParseUnits(d.modelUnits)
	if err != nil {
		return app.DatasetFiles{}, errors.ConfigInvalid(err.Error())
	}
	return app.DatasetFiles{
		Key:         d.key,
		Observation: d.obs,
		Model:       d.model,
		Covariance:  d.cov,
		ObsUnits:    obsUnits,
		ModelUnits:  modelUnits,
	}, nil
}

// envFlags are shared by every command that analyzes data
type envFlags struct {
	plan     string
	manifest string
	storeDSN string
	out      string
}

func (e *envFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&e.plan, "plan", "", "Pre-registered analysis plan (YAML)")
	f.StringVar(&e.manifest, "manifest", "", "Provenance manifest (JSON); required in strict mode")
	f.StringVar(&e.storeDSN, "store", config.GetEnvOrDefault("FP_STORE", ""), "Result store: directory, file://dir or postgres:// DSN")
	f.StringVar(&e.out, "out", "", "Directory for JSON, markdown, HTML and metrics output")
}

// environment is everything a command needs to run a service
type environment struct {
	cfg     config.RunConfig
	inputs  *app.InputLoader
	store   ports.ResultStore
	streams ports.RNGPort
	metrics *metrics.Recorder
}

func (e *envFlags) open(ctx context.Context) (*environment, error) {
	cfg, err := config.Load(e.plan)
	if err != nil {
		return nil, err
	}
	for _, key := range cfg.Defaulted() {
		internal.DefaultLogger.Debug("config %s: default", key)
	}

	l := loader.New()
	var inputs *app.InputLoader
	if e.manifest != "" {
		v, err := provenance.Open(e.manifest)
		if err != nil {
			return nil, err
		}
		inputs = app.NewInputLoader(l, l, v)
	} else {
		inputs = app.NewInputLoader(l, l, nil)
	}

	env := &environment{
		cfg:     cfg,
		inputs:  inputs,
		streams: rng.NewPCGAdapter(),
		metrics: metrics.NewRecorder(),
	}
	if e.storeDSN != "" {
		s, err := store.Open(ctx, e.storeDSN)
		if err != nil {
			return nil, err
		}
		env.store = s
	}
	return env, nil
}

func (env *environment) Close() {
	if env.store != nil {
		if err := env.store.Close(); err != nil {
			log.Printf("[fpscan] close store: %v", err)
		}
	}
}

func printFingerprint(fp run.DatasetFingerprint) {
	status := "unverified"
	if fp.Verified {
		status = "verified"
	}
	fmt.Printf("%s\t%s\t%d bytes\t%s\t%s\n", fp.Key, fp.Filename, fp.Bytes, fp.SHA256, status)
}
