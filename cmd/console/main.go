package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/config"
	"github.com/drag0sd0g/ezdl-agents/internal/directory"
	"github.com/drag0sd0g/ezdl-agents/internal/gateway"
	"github.com/drag0sd0g/ezdl-agents/internal/launcher"
	"github.com/drag0sd0g/ezdl-agents/internal/utils"
	"github.com/drag0sd0g/ezdl-agents/pkg/api"
)

const historyFile = ".ezdl_console_history"

type options struct {
	gatewayURL   string
	bootstrapURL string
	name         string
	directory    string
	timeout      time.Duration
}

func main() {
	opts := options{}

	rootCmd := &cobra.Command{
		Use:          "console",
		Short:        "Interactive ezDL client connected through the HTTP gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), opts)
		},
	}
	flags := rootCmd.Flags()
	flags.StringVar(&opts.gatewayURL, "gateway", os.Getenv(config.EnvName("connector.url")), "gateway WebSocket URL, e.g. ws://localhost:8081/ws")
	flags.StringVar(&opts.bootstrapURL, "bootstrap", os.Getenv(config.EnvName("bootstrap.url")), "bootstrap server used to find the gateway")
	flags.StringVar(&opts.name, "name", "", "agent name of this console")
	flags.StringVar(&opts.directory, "directory", "directory", "name of the directory agent")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "ask timeout")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runConsole(ctx context.Context, opts options) error {
	url := opts.gatewayURL
	if url == "" {
		if opts.bootstrapURL == "" {
			return errors.New("either --gateway or --bootstrap is required")
		}
		boot := api.NewClient(opts.bootstrapURL)
		boot.SetTimeout(opts.timeout)
		var err error
		if url, err = boot.Resolve(ctx, config.ConnectorHTTP); err != nil {
			return fmt.Errorf("failed to find gateway: %w", err)
		}
	}
	if opts.name == "" {
		opts.name = utils.CreateAgentName("console")
	}

	codec := launcher.NewCodec()
	conn, err := gateway.NewConnector(url, codec)
	if err != nil {
		return err
	}
	defer conn.Close()

	a := agent.New(opts.name, conn, agent.WithAskTimeout(opts.timeout))
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	c := newConsole(a, directory.NewClient(opts.directory, ""), os.Stdout)
	fmt.Printf("Connected to %s as %s. Type help for commands.\n", url, opts.name)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, name := range commandNames() {
			if strings.HasPrefix(name, strings.ToLower(prefix)) {
				out = append(out, name)
			}
		}
		return out
	})

	history := filepath.Join(os.TempDir(), historyFile)
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, historyFile)
	}
	if f, err := os.Open(history); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(history); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("ezdl> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := c.exec(ctx, input)
		if err != nil {
			log.Printf("Error: %v", err)
		}
		if quit || a.Halted() {
			return nil
		}
	}
}
