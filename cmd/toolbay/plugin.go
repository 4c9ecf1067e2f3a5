package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/toolbay/toolbay/internal/adapters/backend"
	"github.com/toolbay/toolbay/internal/adapters/ledgerfile"
	"github.com/toolbay/toolbay/internal/domain/config"
	"github.com/toolbay/toolbay/internal/domain/install"
	"github.com/toolbay/toolbay/internal/domain/ledger"
	"github.com/toolbay/toolbay/internal/domain/registry"
	"github.com/toolbay/toolbay/internal/domain/resolve"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage ToolBay plugins",
	Long:  `Search, resolve, install, and manage plugins that extend the workbench.`,
}

var pluginSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the plugin registry",
	Long:  `List plugins available in the registry, optionally filtered by a query string.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		return runPluginSearch(cmd.Context(), query)
	},
}

var pluginResolveCmd = &cobra.Command{
	Use:   "resolve <id>[@version]",
	Short: "Resolve a plugin's dependency closure",
	Long: `Build the full dependency graph of a plugin without installing anything.

Cycles, version conflicts, and unknown dependencies are reported together,
and a safe installation order is printed when nothing blocks the install.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginResolve(cmd.Context(), args[0])
	},
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <id>[@version]",
	Short: "Install a plugin and its dependencies",
	Long: `Resolve a plugin's dependency closure and install the full set in
dependency order.

Examples:
  toolbay plugin install battery-analyzer
  toolbay plugin install battery-analyzer@2.1.0 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginInstall(cmd.Context(), args[0])
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Long:  `Display all installed plugins with their version and status.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPluginList(cmd.Context())
	},
}

var pluginInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show plugin details",
	Long:  `Display detailed information about an installed plugin.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginInfo(cmd.Context(), args[0])
	},
}

var pluginRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"uninstall", "rm"},
	Short:   "Remove an installed plugin",
	Long:    `Remove an installed plugin by id. Its dependencies stay installed.`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginRemove(cmd.Context(), args[0])
	},
}

var pluginEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginSetEnabled(cmd.Context(), args[0], true)
	},
}

var pluginDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginSetEnabled(cmd.Context(), args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginSearchCmd)
	pluginCmd.AddCommand(pluginResolveCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginInfoCmd)
	pluginCmd.AddCommand(pluginRemoveCmd)
	pluginCmd.AddCommand(pluginEnableCmd)
	pluginCmd.AddCommand(pluginDisableCmd)
}

// pluginEnv bundles the collaborators every plugin command needs.
type pluginEnv struct {
	cfg    config.Config
	client *registry.Client
	ledger *ledger.Ledger
	repo   *ledgerfile.YAMLRepository
}

// newPluginEnv loads config and the installed-plugin ledger. A missing
// ledger file means nothing is installed yet.
func newPluginEnv(ctx context.Context) (*pluginEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	repo := ledgerfile.NewYAMLRepository()
	led, err := repo.Load(ctx, cfg.LedgerPath)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerNotFound) {
			led = ledger.NewLedger()
		} else {
			return nil, fmt.Errorf("loading ledger: %w", err)
		}
	}

	return &pluginEnv{
		cfg:    cfg,
		client: registry.NewClient(cfg.ClientConfig()),
		ledger: led,
		repo:   repo,
	}, nil
}

func (env *pluginEnv) newBuilder() *resolve.GraphBuilder {
	return resolve.NewGraphBuilder(env.client,
		resolve.WithInstalledView(env.ledger),
		resolve.WithPrefetch(env.cfg.Prefetch),
		resolve.WithLogger(buildLogger()),
	)
}

func (env *pluginEnv) newExecutor() (*install.Executor, error) {
	be := backend.NewArchiveBackend(env.client, env.cfg.PluginsDir)
	return install.NewExecutor(env.newBuilder(), be, env.ledger,
		install.WithLedgerRepository(env.repo, env.cfg.LedgerPath),
		install.WithLogger(buildLogger()),
	)
}

// parsePluginRef splits "id" or "id@version" into its parts.
func parsePluginRef(ref string) (registry.PluginID, registry.Version, error) {
	name, versionStr, _ := strings.Cut(ref, "@")
	id, err := registry.NewPluginID(name)
	if err != nil {
		return registry.PluginID{}, registry.Version{}, err
	}
	return id, registry.NewVersion(versionStr), nil
}

func runPluginSearch(ctx context.Context, query string) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}

	entries, err := env.client.FetchManifestList(ctx)
	if err != nil {
		return fmt.Errorf("searching registry: %w", err)
	}

	query = strings.ToLower(query)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVERSION\tDESCRIPTION")
	matched := 0
	for _, entry := range entries {
		if query != "" &&
			!strings.Contains(strings.ToLower(entry.ID.String()), query) &&
			!strings.Contains(strings.ToLower(entry.Name), query) &&
			!strings.Contains(strings.ToLower(entry.Description), query) {
			continue
		}
		matched++
		desc := entry.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", entry.ID, entry.Version, desc)
	}
	if matched == 0 {
		fmt.Println("No plugins matched.")
		return nil
	}
	return w.Flush()
}

func runPluginResolve(ctx context.Context, ref string) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}
	id, version, err := parsePluginRef(ref)
	if err != nil {
		return err
	}

	if env.ledger.Has(id) {
		installed, _ := env.ledger.InstalledVersion(id)
		fmt.Printf("%s is already installed at %s.\n", id, installed)
		return nil
	}

	result, err := env.newBuilder().Resolve(ctx, id, version)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", id, err)
	}

	printResolution(result)
	return nil
}

func runPluginInstall(ctx context.Context, ref string) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}
	id, version, err := parsePluginRef(ref)
	if err != nil {
		return err
	}

	exec, err := env.newExecutor()
	if err != nil {
		return err
	}
	exec.SetProgressHandler(printProgress)

	result, err := exec.Resolve(ctx, id, version)
	if err != nil {
		if install.IsAlreadyInstalled(err) {
			installed, _ := env.ledger.InstalledVersion(id)
			fmt.Printf("%s is already installed at %s.\n", id, installed)
			return nil
		}
		return fmt.Errorf("resolving %s: %w", id, err)
	}

	printResolution(result)
	if result.HasErrors() {
		return fmt.Errorf("%s cannot be installed until the issues above are fixed", id)
	}

	if !yesFlag && !confirm(fmt.Sprintf("Install %d plugin(s) (%s)?", len(result.InstallOrder), formatSize(result.TotalSize))) {
		fmt.Println("Aborted.")
		return exec.Reset()
	}

	status, err := exec.ConfirmAndInstall(ctx)
	if err != nil {
		return err
	}
	if !status.Success {
		return fmt.Errorf("installation stopped after %d of %d plugin(s): %s",
			len(status.Installed), len(result.InstallOrder), strings.Join(status.Errors, "; "))
	}

	fmt.Printf("✓ Installed %d plugin(s).\n", len(status.Installed))
	return nil
}

func runPluginList(ctx context.Context) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}

	entries := env.ledger.List()
	if len(entries) == 0 {
		fmt.Println("No plugins installed.")
		fmt.Println("")
		fmt.Println("Install plugins using:")
		fmt.Println("  toolbay plugin install <id>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tVERSION\tSTATUS\tINSTALLED")
	for _, entry := range entries {
		status := "disabled"
		if entry.Enabled {
			status = "enabled"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			entry.ID(),
			entry.InstalledVersion,
			status,
			entry.InstalledAt.Format("2006-01-02"),
		)
	}
	return w.Flush()
}

func runPluginInfo(ctx context.Context, name string) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}
	id, err := registry.NewPluginID(name)
	if err != nil {
		return err
	}

	entry, ok := env.ledger.Get(id)
	if !ok {
		return fmt.Errorf("plugin %q is not installed", name)
	}

	m := entry.Manifest
	fmt.Printf("ID:          %s\n", m.ID)
	fmt.Printf("Name:        %s\n", m.Name)
	fmt.Printf("Version:     %s\n", entry.InstalledVersion)
	fmt.Printf("Description: %s\n", m.Description)
	if m.Author != "" {
		fmt.Printf("Author:      %s\n", m.Author)
	}
	if m.Homepage != "" {
		fmt.Printf("Homepage:    %s\n", m.Homepage)
	}
	fmt.Printf("Installed:   %s\n", entry.InstalledAt.Format("2006-01-02 15:04"))
	fmt.Printf("Enabled:     %t\n", entry.Enabled)
	if len(m.Dependencies) > 0 {
		fmt.Println("Dependencies:")
		for _, dep := range m.Dependencies {
			if dep.Version.IsZero() {
				fmt.Printf("  - %s\n", dep.ID)
			} else {
				fmt.Printf("  - %s@%s\n", dep.ID, dep.Version)
			}
		}
	}
	return nil
}

func runPluginRemove(ctx context.Context, name string) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}
	id, err := registry.NewPluginID(name)
	if err != nil {
		return err
	}

	if !env.ledger.Remove(id) {
		return fmt.Errorf("plugin %q is not installed", name)
	}
	if err := env.repo.Save(ctx, env.cfg.LedgerPath, env.ledger); err != nil {
		return err
	}

	be := backend.NewArchiveBackend(env.client, env.cfg.PluginsDir)
	if err := be.Remove(id); err != nil {
		return fmt.Errorf("removing plugin files: %w", err)
	}

	fmt.Printf("✓ Removed %s.\n", id)
	return nil
}

func runPluginSetEnabled(ctx context.Context, name string, enabled bool) error {
	env, err := newPluginEnv(ctx)
	if err != nil {
		return err
	}
	id, err := registry.NewPluginID(name)
	if err != nil {
		return err
	}

	if err := env.ledger.SetEnabled(id, enabled); err != nil {
		return err
	}
	if err := env.repo.Save(ctx, env.cfg.LedgerPath, env.ledger); err != nil {
		return err
	}

	verb := "Enabled"
	if !enabled {
		verb = "Disabled"
	}
	fmt.Printf("✓ %s %s.\n", verb, id)
	return nil
}

// printResolution renders the closure: nodes by level, then everything that
// blocks installation, then the planned order if there is one.
func printResolution(result *resolve.ResolutionResult) {
	fmt.Printf("Resolved %s: %d plugin(s), %s\n", result.Root, len(result.Nodes), formatSize(result.TotalSize))
	for _, node := range result.Nodes {
		marker := ""
		switch {
		case node.IsInstalled && node.NeedsUpdate:
			marker = " (installed, needs update)"
		case node.IsInstalled:
			marker = " (installed)"
		}
		fmt.Printf("  %s%s@%s%s\n", strings.Repeat("  ", node.Level), node.ID, node.Version, marker)
	}

	for _, cycle := range result.Cycles {
		fmt.Printf("✗ dependency cycle: %s\n", cycle)
	}
	for _, conflict := range result.Conflicts {
		fmt.Printf("✗ version conflict: %s\n", conflict)
	}
	for _, missing := range result.Missing {
		if missing.RequiredBy.IsZero() {
			fmt.Printf("✗ not in registry: %s\n", missing.ID)
		} else {
			fmt.Printf("✗ not in registry: %s (required by %s)\n", missing.ID, missing.RequiredBy)
		}
	}

	if len(result.InstallOrder) > 0 {
		parts := make([]string, len(result.InstallOrder))
		for i, id := range result.InstallOrder {
			parts[i] = id.String()
		}
		fmt.Printf("Install order: %s\n", strings.Join(parts, ", "))
	}
}

func printProgress(p install.Progress) {
	switch p.Status {
	case install.StatusDownloading:
		fmt.Printf("[%d/%d] %s: downloading...\n", p.Current, p.Total, p.Plugin)
	case install.StatusInstalling:
		fmt.Printf("[%d/%d] %s: installing...\n", p.Current, p.Total, p.Plugin)
	case install.StatusCompleted:
		fmt.Printf("[%d/%d] ✓ %s\n", p.Current, p.Total, p.Plugin)
	case install.StatusFailed:
		fmt.Printf("[%d/%d] ✗ %s: %v\n", p.Current, p.Total, p.Plugin, p.Err)
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
