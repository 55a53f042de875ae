package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/ticketbooth/internal/config"
	"github.com/zulandar/ticketbooth/internal/daemon"
	"github.com/zulandar/ticketbooth/internal/models"
	"github.com/zulandar/ticketbooth/internal/store"
	"github.com/zulandar/ticketbooth/internal/ticket"
	"golang.org/x/term"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and maintain the ticket store",
	}

	cmd.AddCommand(newStoreShowCmd())
	cmd.AddCommand(newStoreForgetCmd())
	cmd.AddCommand(newStoreMigrateCmd())
	return cmd
}

func newStoreShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List active tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreShow(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Ticketbooth config file")
	return cmd
}

func newStoreForgetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "forget <channel-id>",
		Short: "Remove a ticket record without touching Discord",
		Long: `Removes the ticket recorded for a channel and frees its opener to open a
new ticket. Use this when a ticket channel was deleted by hand and the record
was left behind.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreForget(cmd, configPath, args[0], yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Ticketbooth config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func newStoreMigrateCmd() *cobra.Command {
	var (
		configPath string
		importPath string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL store tables",
		Long: `Runs the schema migration for the sqlite or mysql store driver. With
--import, copies the tickets from a tickets.json file into the SQL store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreMigrate(cmd, configPath, importPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Ticketbooth config file")
	cmd.Flags().StringVar(&importPath, "import", "", "tickets.json file to copy into the SQL store")
	return cmd
}

func openConfiguredStore(configPath string) (*config.Config, *store.Store, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, closeFn, err := daemon.OpenStore(cfg.Store, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, st, closeFn, nil
}

func runStoreShow(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	_, st, closeFn, err := openConfiguredStore(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	snap, err := st.Snapshot(context.Background())
	if err != nil {
		return err
	}
	tickets := ticket.SortedTickets(snap)
	if len(tickets) == 0 {
		fmt.Fprintf(out, "No active tickets (last ticket number: %d).\n", snap.LastTicketNumber)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tCHANNEL\tOPENER\tSTATUS\tCLAIMED BY")
	for _, t := range tickets {
		claimed := t.ClaimedByID()
		if claimed == "" {
			claimed = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ChannelName(), t.ChannelID, t.OpenerID, t.Status, claimed)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d active, last ticket number %d\n", len(tickets), snap.LastTicketNumber)
	return nil
}

func runStoreForget(cmd *cobra.Command, configPath, channelID string, skipConfirm bool) error {
	out := cmd.OutOrStdout()
	_, st, closeFn, err := openConfiguredStore(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	snap, err := st.Snapshot(context.Background())
	if err != nil {
		return err
	}
	t, ok := snap.TicketsByChannel[channelID]
	if !ok {
		return fmt.Errorf("no ticket recorded for channel %s", channelID)
	}

	if !skipConfirm && !confirmForget(cmd, t) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	var removed *models.Ticket
	err = st.Update(context.Background(), func(s *models.State) error {
		removed = s.Remove(channelID)
		if removed == nil {
			return ticket.ErrTicketNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Forgot %s (channel %s, opener %s)\n", removed.ChannelName(), channelID, removed.OpenerID)
	return nil
}

// confirmForget asks for confirmation. A non-terminal stdin never confirms,
// so scripts must pass --yes.
func confirmForget(cmd *cobra.Command, t *models.Ticket) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "stdin is not a terminal; pass --yes to confirm.")
		return false
	}

	fmt.Fprintf(out, "Forget %s opened by %s? The Discord channel is not touched.\n", t.ChannelName(), t.OpenerID)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")
	return readYes(in)
}

func readYes(in io.Reader) bool {
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}

func runStoreMigrate(cmd *cobra.Command, configPath, importPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver == config.DriverFile {
		return fmt.Errorf("store driver is %q; migrate applies to sqlite and mysql", cfg.Store.Driver)
	}

	backend, closeFn, err := daemon.OpenBackend(cfg.Store)
	if err != nil {
		return err
	}
	defer closeFn()
	fmt.Fprintf(out, "Migrated %s store\n", cfg.Store.Driver)

	if importPath == "" {
		return nil
	}

	if _, err := os.Stat(importPath); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	ctx := context.Background()
	src, err := store.NewFileBackend(importPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("read %s: %w", importPath, err)
	}
	err = store.New(backend, nil).Update(ctx, func(st *models.State) error {
		if len(st.TicketsByChannel) > 0 || st.LastTicketNumber > 0 {
			return fmt.Errorf("%s store already holds tickets; refusing to overwrite", cfg.Store.Driver)
		}
		*st = *src
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %d tickets from %s (last ticket number %d)\n",
		len(src.TicketsByChannel), importPath, src.LastTicketNumber)
	return nil
}
