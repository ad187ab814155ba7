// Package cli implements the forge command-line front end: cobra-based
// command tree, colored progress output, and the build/worker/serve
// entry points. Generalized from spok's cli/cmd.BuildRootCmd +
// cli/app.App split (one struct holding stdout/stderr/options/logger,
// flags bound in the cobra layer). Behavior past flag parsing lives in
// internal/app.
package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/juju/ansiterm/tabwriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/forgecore/forge/internal/app"
	"github.com/forgecore/forge/internal/config"
	"github.com/forgecore/forge/internal/coord"
	"github.com/forgecore/forge/internal/dispatcher"
	"github.com/forgecore/forge/internal/httpstatus"
	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/metrics"
	"github.com/forgecore/forge/internal/observed"
	"github.com/forgecore/forge/internal/pathtable"
	"github.com/forgecore/forge/internal/pip"
)

var (
	version = "dev"
	commit  = ""

	headerStyle = color.New(color.FgWhite, color.Bold)
	okStyle     = color.New(color.FgGreen, color.Bold)
	failStyle   = color.New(color.FgRed, color.Bold)
)

// App mirrors spok's App: one struct holding where to write output, the
// bound options, and the logger, constructed once and handed to every
// subcommand's RunE closure.
type App struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Options *Options
	logger  logging.Logger
}

// Options holds every flag's bound value, zero-valued until cobra parses
// the command line.
type Options struct {
	Verbose       bool
	Quiet         bool
	Root          string
	ListenAddr    string
	GrpcAddr      string
	WorkerAddr    string
	InvocationID  string
	AdvertiseIP   string
	AdvertisePort int
	Workers       int
	MaxParallel   int
}

// New constructs an App writing to the given streams.
func New(stdout, stderr io.Writer) *App {
	return &App{Stdout: stdout, Stderr: stderr, Options: &Options{}}
}

func (a *App) setup() error {
	logger, err := logging.New(a.Options.Verbose)
	if err != nil {
		return err
	}
	a.logger = logger

	if a.Options.Root == "" {
		a.Options.Root = "."
	}
	return config.LoadDotEnv(a.Options.Root)
}

// BuildRootCmd builds the forge root command and its subcommands,
// writing to os.Stdout/os.Stderr. Tests that need to capture output
// construct an App directly and call its run methods (e.g. runBuild).
func BuildRootCmd() *cobra.Command {
	app := New(os.Stdout, os.Stderr)

	root := &cobra.Command{
		Use:           "forge [targets]...",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "A content-addressed, incremental, distributed build engine",
	}
	root.SetVersionTemplate(fmt.Sprintf(`{{printf "%s %s\n%s %s\n"}}`, headerStyle.Sprint("Version:"), version, headerStyle.Sprint("Commit:"), commit))

	flags := root.PersistentFlags()
	flags.BoolVarP(&app.Options.Verbose, "verbose", "v", false, "Enable debug logging.")
	flags.BoolVarP(&app.Options.Quiet, "quiet", "q", false, "Suppress per-pip progress output.")
	flags.StringVar(&app.Options.Root, "root", "", "The build root directory (defaults to $CWD).")

	root.AddCommand(buildCmd(app), workerCmd(app), serveCmd(app))
	return root
}

func buildCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [targets]...",
		Short: "Run the named targets through the local dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.setup(); err != nil {
				return err
			}
			return app.runBuild(cmd.Context(), args)
		},
	}
	cmd.Flags().IntVar(&app.Options.MaxParallel, "max-parallel", 4, "Default per-stage parallel degree.")
	return cmd
}

// newEngine assembles C4 (observed.Processor), C7 (a local content
// session), and C8 (sandbox.Adapter) behind an app.Engine, per spec.md
// §2's CacheLookup -> ChooseWorker -> Execute -> Materialize control
// flow.
func (a *App) newEngine(table *pathtable.Table) *app.Engine {
	resolver := observed.NewResolver(table, nil, nil, observed.OSProbe, 0)
	processor := observed.NewProcessor(table, resolver, app.RealDirectoryLister{Table: table}, app.FileHasher{}, nil)
	cas := app.LocalCAS{Root: filepath.Join(a.Options.Root, ".forge-cache")}
	executor := app.RealExecutor{Table: table}
	return app.NewEngine(table, processor, cas, cas, executor, a.logger)
}

func (a *App) runBuild(ctx context.Context, targets []string) error {
	if len(targets) == 0 {
		fmt.Fprintln(a.Stdout, "No targets given; nothing to do.")
		return nil
	}

	started := time.Now()
	var bar *progressbar.ProgressBar
	if !a.Options.Quiet {
		bar = progressbar.Default(int64(len(targets)), "building")
	}

	table := pathtable.New()
	engine := a.newEngine(table)
	for _, name := range targets {
		engine.Register(&app.Target{ID: name, Dir: a.Options.Root})
	}

	results := make(chan *pip.RunnablePip, len(targets))
	handlers := engine.Handlers(ctx)
	materialize := handlers[dispatcher.StageMaterialize]
	handlers[dispatcher.StageMaterialize] = func(p *pip.RunnablePip) (dispatcher.StageName, bool, error) {
		next, terminal, err := materialize(p)
		if err == nil {
			results <- p
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		return next, terminal, err
	}

	d := dispatcher.New(dispatcher.Config{
		InitialMaxParallel: map[dispatcher.StageName]int{dispatcher.StageCPU: a.Options.MaxParallel},
		Handlers:           handlers,
		Logger:             a.logger,
		Adaptive: &dispatcher.AdaptiveConfig{
			ConfiguredMax: a.Options.MaxParallel,
			Sampler:       (&dispatcher.UnixSampler{DiskPaths: []string{a.Options.Root}}).Sample,
		},
	})

	for _, target := range targets {
		d.Enqueue(dispatcher.StageCacheLookup, pip.New(target))
	}
	d.SetFinalized()

	if err := d.Drain(ctx); err != nil {
		failStyle.Fprintf(a.Stderr, "build failed: %v\n", err)
		return err
	}
	close(results)

	w := tabwriter.NewWriter(a.Stdout, 0, 8, 1, '\t', tabwriter.AlignRight)
	headerStyle.Fprintln(w, "Target\tStatus")
	for p := range results {
		status := "Completed"
		if p.State() != pip.Completed {
			status = "Failed"
		}
		style := okStyle
		if status != "Completed" {
			style = failStyle
		}
		style.Fprintf(w, "%s\t%s\n", p.ID, status)
	}
	_ = w.Flush()

	fmt.Fprintf(a.Stdout, "Finished %s targets in %s\n", humanize.Comma(int64(len(targets))), time.Since(started).Round(time.Millisecond))
	return nil
}

func workerCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Attach to an orchestrator as a remote worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.setup(); err != nil {
				return err
			}
			return app.runWorker(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&app.Options.WorkerAddr, "orchestrator", "", "Orchestrator gRPC address to dial.")
	cmd.Flags().StringVar(&app.Options.InvocationID, "invocation", "", "Invocation id printed by forge serve.")
	cmd.Flags().StringVar(&app.Options.AdvertiseIP, "advertise-ip", "127.0.0.1", "Address this worker announces in its Hello.")
	cmd.Flags().IntVar(&app.Options.AdvertisePort, "advertise-port", 0, "Port this worker announces in its Hello.")
	return cmd
}

func (a *App) runWorker(ctx context.Context) error {
	if a.Options.WorkerAddr == "" {
		return fmt.Errorf("cli: --orchestrator is required")
	}
	invocation, err := uuid.Parse(a.Options.InvocationID)
	if err != nil {
		return fmt.Errorf("cli: invalid --invocation: %w", err)
	}

	conn, err := grpc.Dial(a.Options.WorkerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("cli: dialing orchestrator: %w", err)
	}
	defer conn.Close()

	client := &coord.WorkerClient{Invocation: coord.InvocationID(invocation), Conn: conn, Logger: a.logger}
	loc := coord.Location{IP: a.Options.AdvertiseIP, Port: a.Options.AdvertisePort}
	completion, err := client.Attach(ctx, loc)
	if err != nil {
		return fmt.Errorf("cli: attaching: %w", err)
	}
	fmt.Fprintf(a.Stdout, "attached to %s as worker %d (max concurrency %d)\n", a.Options.WorkerAddr, completion.WorkerID, completion.MaxConcurrency)
	return client.Monitor(ctx, 30*time.Second)
}

func serveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Coordinate remote workers and serve build status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.setup(); err != nil {
				return err
			}
			return app.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&app.Options.ListenAddr, "listen", "", "Address to serve status on (default :8080).")
	cmd.Flags().StringVar(&app.Options.GrpcAddr, "grpc-listen", "", "Address to serve the worker coordination channel on (default :9090).")
	cmd.Flags().IntVar(&app.Options.Workers, "workers", 4, "Number of dynamic remote worker slots to admit.")
	return cmd
}

func (a *App) runServe(ctx context.Context) error {
	invocation := coord.NewInvocationID()

	slots := make([]*coord.Slot, 0, a.Options.Workers)
	for i := 0; i < a.Options.Workers; i++ {
		slots = append(slots, coord.NewSlot(pip.WorkerID(i+1), true, nil))
	}
	orch := coord.NewOrchestrator(invocation, a.logger, slots)

	reg := metrics.New()
	statusServer := &httpstatus.Server{Orchestrator: orch, Metrics: reg, Slots: orch.Slots}
	httpAddr := a.Options.ListenAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	grpcAddr := a.Options.GrpcAddr
	if grpcAddr == "" {
		grpcAddr = ":9090"
	}
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("cli: listening on %s: %w", grpcAddr, err)
	}
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&coord.ServiceDesc, orch)

	fmt.Fprintf(a.Stdout, "invocation: %s\n", invocation)
	fmt.Fprintf(a.Stdout, "serving %d worker slots on %s, status on %s\n", a.Options.Workers, grpcAddr, httpAddr)

	errCh := make(chan error, 2)
	go func() { errCh <- grpcServer.Serve(lis) }()
	go func() { errCh <- http.ListenAndServe(httpAddr, statusServer.Router()) }()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		orch.Exit()
		return ctx.Err()
	case err := <-errCh:
		grpcServer.GracefulStop()
		orch.Exit()
		return err
	}
}
