package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"docuflow/internal/auth"
	"docuflow/internal/config"
	"docuflow/internal/converter"
	"docuflow/internal/logging"
	"docuflow/internal/tools"
)

const version = "1.1.0"

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Color definitions for CLI output
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// CLI holds the command line interface state
type CLI struct {
	cfg     config.Config
	meta    config.Metadata
	tokens  *auth.EnvFileStore
	logger  logging.Logger
	tty     bool
	barOpen bool
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	cli := &CLI{
		tokens: auth.NewEnvFileStore(),
		logger: logging.NewComponentLogger("cli"),
		tty:    isTTY(),
	}

	rootCmd := &cobra.Command{
		Use:   "docuflow",
		Short: "📄 Document and image conversion from the command line",
		Long: fmt.Sprintf(`%s

%s converts documents and images through the DocuFlow conversion service:
PDF to Word, Word to PDF, JPG to PNG and PNG to JPG. Files are validated
locally, uploaded, and the result is written next to you when the service
finishes, whether it answers immediately or hands the work to a background job.

%s
  docuflow convert report.pdf                # PDF -> Word, tool inferred
  docuflow convert scan.pdf --mode ocr       # force OCR extraction
  docuflow convert photo.jpg -o ~/Pictures   # choose the output directory
  docuflow convert demo.pdf --demo           # simulated run, no network

  docuflow tools                             # list conversion tools
  docuflow config                            # show effective configuration
  docuflow login <token>                     # store an access token`,
			bold("DocuFlow "+version),
			bold("DocuFlow"),
			bold("EXAMPLES:")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("api-url", "", "Conversion service base URL")
	rootCmd.PersistentFlags().Bool("demo", false, "Demo mode: simulate the conversion without network")
	_ = viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("demo_mode", rootCmd.PersistentFlags().Lookup("demo"))

	rootCmd.AddCommand(newConvertCommand(cli))
	rootCmd.AddCommand(newToolsCommand())
	rootCmd.AddCommand(newConfigCommand(cli))
	rootCmd.AddCommand(newLoginCommand(cli))
	rootCmd.AddCommand(newLogoutCommand(cli))
	rootCmd.AddCommand(newVersionCommand())

	// Configure viper
	viper.SetConfigName("docuflow-config")
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	return rootCmd
}

// initialize resolves configuration and applies flag overrides.
func (cli *CLI) initialize(cmd *cobra.Command) error {
	cfg, meta, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cli.cfg = cfg
	cli.meta = meta

	// A missing config file is fine; flag bindings still resolve.
	_ = viper.ReadInConfig()

	if cmd.Flags().Changed("api-url") {
		cli.cfg.APIURL = strings.TrimRight(viper.GetString("api_url"), "/")
	}
	if cmd.Flags().Changed("demo") {
		cli.cfg.DemoMode = viper.GetBool("demo_mode")
	}
	return nil
}

// newConvertCommand creates the convert subcommand
func newConvertCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a document or image",
		Long: `Convert a single file and write the result to the output directory.

The tool is inferred from the file extension when --tool is not given:
.pdf -> pdf-word, .docx/.doc -> word-pdf, .jpg/.jpeg -> jpg-png, .png -> png-jpg.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}

			path := args[0]
			toolFlag, _ := cmd.Flags().GetString("tool")
			modeFlag, _ := cmd.Flags().GetString("mode")
			outputDir, _ := cmd.Flags().GetString("output")

			key, err := resolveTool(toolFlag, path)
			if err != nil {
				return err
			}
			mode, err := converter.ParseRequestMode(modeFlag)
			if err != nil {
				return err
			}
			return cli.runConvert(key, path, mode, outputDir)
		},
	}

	cmd.Flags().StringP("tool", "t", "", "Conversion tool (pdf-word, word-pdf, jpg-png, png-jpg)")
	cmd.Flags().StringP("mode", "m", "", "Extraction mode hint for pdf-word (auto, tier-a, ocr)")
	cmd.Flags().StringP("output", "o", ".", "Directory to write the result into")
	return cmd
}

func (cli *CLI) runConvert(key tools.Key, path string, mode converter.RequestMode, outputDir string) error {
	orch, err := converter.New(key,
		converter.WithAPIURL(cli.cfg.APIURL),
		converter.WithHTTPTimeout(cli.cfg.HTTPTimeout),
		converter.WithDemoMode(cli.cfg.DemoMode),
		converter.WithPollInterval(cli.cfg.PollInterval),
		converter.WithPollDeadline(cli.cfg.PollDeadline),
		converter.WithTokenProvider(cli.tokens),
		converter.WithLogger(logging.NewComponentLogger("converter")),
		converter.WithOnUpdate(cli.render),
	)
	if err != nil {
		return err
	}

	if err := orch.SetFile(path); err != nil {
		return err
	}
	cli.logger.Info("converting %s with %s (mode=%s, demo=%v)", path, key, mode, cli.cfg.DemoMode)

	tool := orch.Tool()
	fmt.Printf("%s %s %s\n", blue("→"), bold(tool.Title), gray(filepath.Base(path)))
	if cli.cfg.DemoMode {
		fmt.Printf("%s\n", yellow("Demo mode: simulating the conversion, nothing is uploaded."))
	}

	// First interrupt cancels the attempt, a second one force-quits.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		orch.Cancel()
		<-sigChan
		os.Exit(1)
	}()

	orch.Convert(context.Background(), mode)
	cli.closeBar()

	snap := orch.Snapshot()
	switch snap.Status {
	case converter.StatusSuccess:
		written, err := orch.DownloadResult(outputDir)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", green("✨"), bold(written))
		if snap.Mode != converter.ReportedNone {
			fmt.Printf("%s\n", gray("converted via "+string(snap.Mode)))
		}
		if snap.PDFHasText == converter.PDFTextAbsent {
			fmt.Printf("%s\n", yellow("The PDF had no embedded text; OCR quality depends on the scan."))
		}
		return nil

	case converter.StatusIdle:
		if snap.Gate != nil {
			return cli.reportGate(snap.Gate)
		}
		if snap.Notice != "" {
			fmt.Printf("%s %s\n", yellow("⚠"), snap.Notice)
		}
		return nil

	case converter.StatusError:
		return fmt.Errorf("%s", snap.ErrorMessage)

	default:
		return fmt.Errorf("conversion ended in unexpected state %q", snap.Status)
	}
}

func (cli *CLI) reportGate(gate *converter.GateBlock) error {
	switch gate.Status {
	case 429:
		fmt.Printf("%s %s\n", yellow("⏳"), "Rate limited by the conversion service. Try again shortly.")
	default:
		fmt.Printf("%s %s\n", yellow("🔒"), "This conversion needs a higher plan or a login token.")
	}
	if gate.Detail != "" {
		fmt.Printf("%s\n", gray(gate.Detail))
	}
	return fmt.Errorf("conversion not started (HTTP %d)", gate.Status)
}

// render draws attempt progress. On a TTY the current line is redrawn in
// place; otherwise only status transitions are printed.
func (cli *CLI) render(a converter.Attempt) {
	switch a.Status {
	case converter.StatusUploading, converter.StatusConverting:
		if !cli.tty {
			return
		}
		label := "uploading"
		if a.Status == converter.StatusConverting {
			label = "converting"
		}
		fmt.Printf("\r%s %s %3d%%", cyan(progressBar(a.Progress)), label, a.Progress)
		cli.barOpen = true
	default:
		cli.closeBar()
	}
}

func (cli *CLI) closeBar() {
	if cli.barOpen {
		fmt.Println()
		cli.barOpen = false
	}
}

func progressBar(percent int) string {
	const width = 24
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// resolveTool maps an explicit --tool value, or the file extension, to a tool.
func resolveTool(flag, path string) (tools.Key, error) {
	if flag != "" {
		key := tools.Key(flag)
		if _, err := tools.Lookup(key); err != nil {
			return "", err
		}
		return key, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, key := range tools.Keys() {
		cfg, _ := tools.Lookup(key)
		for _, accepted := range cfg.AcceptExts {
			if ext == accepted {
				return key, nil
			}
		}
	}
	return "", fmt.Errorf("cannot infer a tool for %q, pass --tool", filepath.Base(path))
}

// newToolsCommand creates the tools subcommand
func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available conversion tools",
		Run: func(cmd *cobra.Command, args []string) {
			for _, key := range tools.Keys() {
				cfg, _ := tools.Lookup(key)
				fmt.Printf("%s %s\n", bold(string(cfg.Key)), gray("("+cfg.Accept()+" → "+cfg.OutputExt+")"))
				fmt.Printf("   %s\n", cfg.Description)
			}
		},
	}
}

// newConfigCommand creates the config subcommand
func newConfigCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long:  "Show every configuration value together with where it came from (default, config file, or environment).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			rows := []struct {
				name  string
				value string
			}{
				{"APIURL", cli.cfg.APIURL},
				{"DemoMode", fmt.Sprintf("%v", cli.cfg.DemoMode)},
				{"HTTPTimeout", cli.cfg.HTTPTimeout.String()},
				{"PollInterval", cli.cfg.PollInterval.String()},
				{"PollDeadline", cli.cfg.PollDeadline.String()},
				{"LogLevel", cli.cfg.LogLevel},
			}
			for _, row := range rows {
				fmt.Printf("%-14s %-28s %s\n", bold(row.name), row.value, gray(string(cli.meta.Source(row.name))))
			}
			if cli.tokens.Token() != "" {
				fmt.Printf("%-14s %s\n", bold("AccessToken"), green("present"))
			} else {
				fmt.Printf("%-14s %s\n", bold("AccessToken"), gray("not set"))
			}
			return nil
		},
	}
}

// newLoginCommand creates the login subcommand
func newLoginCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store an access token for authenticated conversions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.tokens.Save(args[0]); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Printf("%s Token saved.\n", green("✔"))
			return nil
		},
	}
}

// newLogoutCommand creates the logout subcommand
func newLogoutCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.tokens.Clear(); err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			fmt.Printf("%s Token removed.\n", green("✔"))
			return nil
		},
	}
}

// newVersionCommand creates the version subcommand
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", version)
		},
	}
}
