package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"whatt/internal/kv"
	"whatt/internal/logging"
	"whatt/internal/seen"
)

// seenCmd inspects the persisted seen-set
var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Inspect or reset the persisted set of handled message ids",
	Long: `Operates on the store configured under "store". The memory and
localstorage backends live inside a running process or browser and cannot
be reached from here.`,
}

var seenListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print handled message ids, oldest first",
	Args:  cobra.NoArgs,
	RunE:  seenList,
}

var seenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every handled message id",
	Args:  cobra.NoArgs,
	RunE:  seenClear,
}

func init() {
	seenCmd.AddCommand(seenListCmd)
	seenCmd.AddCommand(seenClearCmd)
}

func openSeenStore() (*seen.Store, kv.Store, error) {
	switch cfg.Store.Backend {
	case "memory", "localstorage":
		return nil, nil, fmt.Errorf("store backend %q is not reachable offline", cfg.Store.Backend)
	}
	backend, err := kv.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	limit := seen.Capacity(cfg.Client.QueueMaxLength)
	return seen.NewStore(backend, cfg.Store.Key, limit, logs.Get(logging.CategoryStore)), backend, nil
}

func seenList(cmd *cobra.Command, args []string) error {
	st, backend, err := openSeenStore()
	if err != nil {
		return err
	}
	defer backend.Close()

	ids := st.Load().IDs()
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No handled messages recorded.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func seenClear(cmd *cobra.Command, args []string) error {
	st, backend, err := openSeenStore()
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := st.Clear(); err != nil {
		return fmt.Errorf("clear seen-set: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s in %s store.\n", st.Key(), cfg.Store.Backend)
	return nil
}
