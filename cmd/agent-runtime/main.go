package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/drag0sd0g/ezdl-agents/internal/config"
	"github.com/drag0sd0g/ezdl-agents/internal/launcher"
	"github.com/drag0sd0g/ezdl-agents/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	registry := launcher.DefaultRegistry()

	rootCmd := &cobra.Command{
		Use:          "agent-runtime",
		Short:        "Runs ezDL agents",
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run [type] [properties]",
		Short: "Start one agent of the given type",
		Long: "Start one agent. The type falls back to agent.type from the properties file " +
			"or EZDL_AGENT_TYPE; properties are overlaid by EZDL_* environment variables.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var agentType, path string
			if len(args) > 0 {
				agentType = args[0]
			}
			if len(args) > 1 {
				path = args[1]
			}
			return run(registry, agentType, path)
		},
	}

	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "List the agent types this runtime can start",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range registry.List() {
				fmt.Println(name)
			}
		},
	}

	rootCmd.AddCommand(runCmd, typesCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(registry *launcher.Registry, agentType, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if agentType == "" {
		agentType = cfg.AgentType
	}
	if agentType == "" {
		return errors.New("no agent type given")
	}

	logs := logging.Setup(cfg.LogFile, cfg.LogMaxSize, cfg.LogMaxBackups, agentType)
	defer logs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := launcher.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s transport: %w", cfg.Connector, err)
	}
	defer env.Close()

	comp, err := registry.Launch(agentType, env)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		env.Scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := comp.Start(gctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", comp.Name(), err)
		}
		log.Printf("%s agent %s started over %s", agentType, comp.Name(), cfg.Connector)

		<-gctx.Done()
		log.Printf("Shutting down %s...", comp.Name())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := comp.Stop(shutdownCtx); err != nil {
			log.Printf("Error stopping %s: %v", comp.Name(), err)
		}
		log.Printf("%s stopped", comp.Name())
		return nil
	})
	return g.Wait()
}
