package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/drag0sd0g/ezdl-agents/internal/agent"
	"github.com/drag0sd0g/ezdl-agents/internal/directory"
	"github.com/drag0sd0g/ezdl-agents/internal/message"
	"github.com/drag0sd0g/ezdl-agents/internal/wrapper"
)

type command struct {
	usage string
	help  string
	run   func(c *console, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"agents": {"agents [prefix]", "list registered agents, optionally under a service prefix", (*console).agents},
	"lookup": {"lookup <name>", "show the record of one agent", (*console).lookup},
	"search": {"search [-n max] <query>", "query every wrapper and merge the hits", (*console).search},
}

func commandNames() []string {
	names := []string{"help", "quit"}
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type console struct {
	agent     *agent.Agent
	directory *directory.Client
	out       io.Writer
}

func newConsole(a *agent.Agent, dir *directory.Client, out io.Writer) *console {
	return &console{agent: a, directory: dir, out: out}
}

// exec runs one input line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false, nil
	}
	switch name := strings.ToLower(fields[0]); name {
	case "quit", "exit":
		return true, nil
	case "help":
		c.help()
		return false, nil
	default:
		cmd, ok := commands[name]
		if !ok {
			return false, fmt.Errorf("unknown command %q, try help", name)
		}
		return false, cmd.run(c, ctx, fields[1:])
	}
}

func (c *console) help() {
	for _, name := range commandNames() {
		if cmd, ok := commands[name]; ok {
			fmt.Fprintf(c.out, "  %-26s %s\n", cmd.usage, cmd.help)
		}
	}
	fmt.Fprintf(c.out, "  %-26s %s\n", "quit", "leave the console")
}

func (c *console) agents(ctx context.Context, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	records, err := c.directory.LookupPrefix(ctx, c.agent, prefix)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "no agents")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(c.out, "%-40s %s\n", rec.Name, rec.Service)
	}
	return nil
}

func (c *console) lookup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lookup <name>")
	}
	rec, found, err := c.directory.LookupByName(ctx, c.agent, args[0])
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(c.out, "%s is not registered\n", args[0])
		return nil
	}
	fmt.Fprintf(c.out, "%s %s\n", rec.Name, rec.Service)
	return nil
}

func (c *console) search(ctx context.Context, args []string) error {
	limit := 0
	if len(args) >= 2 && args[0] == "-n" {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid -n value %q", args[1])
		}
		limit, args = n, args[2:]
	}
	query := strings.Join(args, " ")
	if query == "" {
		return fmt.Errorf("usage: search [-n max] <query>")
	}

	wrappers, err := c.directory.LookupPrefix(ctx, c.agent, wrapper.ServicePrefix)
	if err != nil {
		return err
	}
	if len(wrappers) == 0 {
		fmt.Fprintln(c.out, "no wrappers registered")
		return nil
	}

	var (
		mu       sync.Mutex
		results  []wrapper.SearchResultTell
		failures []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range wrappers {
		g.Go(func() error {
			reply, err := c.agent.AskFor(gctx, message.New("", rec.Name, "", wrapper.SearchAsk{Query: query, MaxResults: limit}))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", rec.Name, err))
				return nil
			}
			res, ok := reply.Content.(wrapper.SearchResultTell)
			if !ok {
				failures = append(failures, fmt.Sprintf("%s: unexpected reply %s", rec.Name, reply.ContentType()))
				return nil
			}
			results = append(results, res)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failures)
	for _, f := range failures {
		fmt.Fprintln(c.out, f)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	hits := 0
	for _, res := range results {
		if res.Busy {
			fmt.Fprintf(c.out, "[%s] busy, try again later\n", res.Source)
			continue
		}
		for _, doc := range res.Documents {
			fmt.Fprintf(c.out, "[%s] %s (%d) %s\n", res.Source, doc.Title, doc.Year, strings.Join(doc.Authors, ", "))
			hits++
		}
	}
	fmt.Fprintf(c.out, "%d hits from %d sources\n", hits, len(results))
	return nil
}
