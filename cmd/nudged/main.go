package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/nudge-engine/internal/config"
	"github.com/danielpatrickdp/nudge-engine/internal/features"
	"github.com/danielpatrickdp/nudge-engine/internal/logging"
	"github.com/danielpatrickdp/nudge-engine/internal/modelstore"
)

const shutdownTimeout = 10 * time.Second

// #region main
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
// #endregion main

// #region commands
type app struct {
	cfgPath string
	verbose bool
	cfg     *config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "nudged",
		Short: "Contextual bandit nudge engine",
		Long: "nudged reads JSON requests, one per line, from stdin and answers each on stdout.\n" +
			`Ops: {"op":"decide","subject_id":..,"attributes":{..}}, ` +
			`{"op":"feedback","subject_id":..,"arm":..,"reward":..}, ` +
			`{"op":"history","subject_id":..}, {"op":"save"}, {"op":"quit"}.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: a.runServe,
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to YAML config (NUDGE_* env vars override)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(a.newDecideCmd(), a.newFeedbackCmd(), a.newRollbackCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// withRuntime opens the engine, runs fn and shuts down within
// shutdownTimeout even when ctx is already cancelled.
func (a *app) withRuntime(ctx context.Context, fn func(*runtime) error) error {
	rt, err := openRuntime(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	runErr := fn(rt)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil {
		a.log.Error("shutdown failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.withRuntime(ctx, func(rt *runtime) error {
		s := &session{svc: rt.svc, log: a.log.Named("session")}
		return s.serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	})
}

func (a *app) newDecideCmd() *cobra.Command {
	var subject, attrsJSON string
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Select a nudge for one subject and record the decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var attrs features.RawAttributes
			if attrsJSON != "" {
				if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
					return fmt.Errorf("parse --attrs: %w", err)
				}
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				d, err := rt.svc.Decide(cmd.Context(), subject, attrs)
				if err != nil {
					return err
				}
				return writeJSON(cmd, response{OK: true, Decision: &d})
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id")
	cmd.Flags().StringVar(&attrsJSON, "attrs", "", `attributes as a JSON object, e.g. '{"age":34,"mood":4}'`)
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func (a *app) newFeedbackCmd() *cobra.Command {
	var subject string
	var arm int
	var reward float64
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Report the reward for the latest pending decision of a subject and arm",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				rec, err := rt.svc.Feedback(cmd.Context(), subject, arm, reward)
				if err != nil {
					return err
				}
				v := viewOf(rec)
				return writeJSON(cmd, response{OK: true, Resolved: &v})
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id")
	cmd.Flags().IntVar(&arm, "arm", 0, "arm index the reward belongs to")
	cmd.Flags().Float64Var(&reward, "reward", 0, "observed reward")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("arm")
	_ = cmd.MarkFlagRequired("reward")
	return cmd
}

func (a *app) newRollbackCmd() *cobra.Command {
	var snapshot string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Make an earlier model snapshot the active one (sqlite backend)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Storage.Backend != config.BackendSQLite {
				return fmt.Errorf("rollback needs the sqlite backend, have %q", a.cfg.Storage.Backend)
			}
			store, err := modelstore.NewSQLiteStore(a.cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Rollback(cmd.Context(), snapshot); err != nil {
				return err
			}
			a.log.Info("rolled back", zap.String("snapshot_id", snapshot))
			return writeJSON(cmd, response{OK: true})
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "snapshot id to activate")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
// #endregion commands
