// Command tripstore inspects and maintains a trip document store: it dumps the
// document, runs the unread-trip scan, edits the unread list and watches for
// cross-process changes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tripstore/internal/config"
	"tripstore/internal/reload"
	"tripstore/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

// cli runs one command and returns the process exit code.
func cli(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root, a := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil && a.metrics && a.rt != nil {
		err = a.rt.writeMetrics(stderr)
	}
	if a.rt != nil {
		err = errors.Join(err, a.rt.Close())
	}
	if err != nil {
		fmt.Fprintf(stderr, "tripstore: %v\n", err)
		return 1
	}
	return 0
}

type app struct {
	configPath string
	metrics    bool
	stdout     io.Writer
	stderr     io.Writer
	rt         *runtime
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "tripstore",
		Short:         "Inspect and maintain a trip document store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.rt, err = openRuntime(cmd.Context(), cfg, a.stderr)
			return err
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.metrics, "metrics", false, "write Prometheus metrics to stderr after the command")
	root.AddCommand(a.dumpCmd(), a.scanCmd(), a.unreadCmd(), a.markReadCmd(), a.watchCmd())
	return root, a
}

func (a *app) dumpCmd() *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the stored document as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := a.rt.store.Read(cmd.Context(), domain.EntityName(entity))
			if err != nil {
				return err
			}
			return a.writeJSON(doc.Snapshots())
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "restrict output to one entity kind (Trip, LivingAccommodation, BucketListItem)")
	return cmd
}

type scanOutput struct {
	Cursor  *domain.HistoryToken `json:"cursor"`
	Scanned int                  `json:"scanned"`
	Parents []domain.Identifier  `json:"parents"`
	Removed []domain.Identifier  `json:"removed"`
}

func (a *app) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Fold widget history since the stored cursor into the unread list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := a.rt.service.RefreshUnread(cmd.Context())
			if err != nil {
				return err
			}
			return a.writeJSON(scanOutput{Cursor: set.Cursor, Scanned: set.Scanned, Parents: nonNil(set.Parents), Removed: nonNil(set.Removed)})
		},
	}
}

func (a *app) unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "List unread trip identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := a.rt.service.UnreadTrips(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(a.stdout, id.String())
			}
			return nil
		},
	}
}

func (a *app) markReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <token>...",
		Short: "Remove trips from the unread list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]domain.Identifier, 0, len(args))
			for _, arg := range args {
				id, err := domain.ParseIdentifier(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return a.rt.service.MarkTripsRead(cmd.Context(), ids...)
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print a line whenever the document or preference files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.rt.watchFiles) == 0 {
				return errors.New("nothing to watch: configure the fs blob driver or sqlite preferences")
			}
			events, cancel := a.rt.broadcaster.Subscribe(16)
			defer cancel()
			w, err := reload.NewWatcher(a.rt.watchFiles, a.rt.broadcaster, reload.WatcherOptions{Logger: a.rt.logger})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w.Start(ctx)
			defer w.Stop()
			a.rt.logger.Info("watching", "files", a.rt.watchFiles)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					fmt.Fprintf(a.stdout, "reload %s %s\n", ev.Kind, ev.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
				}
			}
		},
	}
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nonNil(ids []domain.Identifier) []domain.Identifier {
	if ids == nil {
		return []domain.Identifier{}
	}
	return ids
}
