// Package command provides CLI command definitions for tokmesh-cli.
package command

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tokmesh/cluster-go/internal/cli/config"
	"github.com/tokmesh/cluster-go/internal/cli/output"
	"github.com/tokmesh/cluster-go/internal/infra/shutdown"
	"github.com/tokmesh/cluster-go/internal/infra/tlsroots"
	"github.com/tokmesh/cluster-go/internal/raftclient"
	"github.com/tokmesh/cluster-go/internal/raftclient/transport/framed"
)

var consistencyByName = map[string]raftclient.Consistency{
	"causal":       raftclient.ConsistencyCausal,
	"sequential":   raftclient.ConsistencySequential,
	"bounded":      raftclient.ConsistencyBoundedLinearizable,
	"linearizable": raftclient.ConsistencyLinearizable,
}

// ClusterCommand returns the cluster subcommand group, the interactive
// surface over the raftclient façade (§6.3's "thin CLI shell").
func ClusterCommand() *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Submit commands and queries to a TokMesh replicated cluster",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "members",
				Aliases: []string{"m"},
				Usage:   "Cluster member addresses (host:port), repeatable",
			},
			&cli.DurationFlag{
				Name:  "session-timeout",
				Usage: "Advisory session timeout hint",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "tls",
				Usage: "Use TLS when dialing cluster members",
			},
			&cli.StringFlag{
				Name:  "tls-ca-file",
				Usage: "PEM file of additional trusted root CAs",
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "Submit a state-mutating command",
				ArgsUsage: "PAYLOAD",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "consistency",
						Usage: "causal, sequential, bounded, or linearizable",
						Value: "sequential",
					},
				},
				Action: clusterSubmit,
			},
			{
				Name:      "query",
				Usage:     "Submit a read-only query",
				ArgsUsage: "PAYLOAD",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "consistency",
						Usage: "causal, sequential, bounded, or linearizable",
						Value: "linearizable",
					},
					&cli.Uint64Flag{
						Name:  "index",
						Usage: "read-index bound; 0 means the server's current state",
					},
				},
				Action: clusterQuery,
			},
			{
				Name:      "watch",
				Usage:     "Open a session and print events of a given name until interrupted",
				ArgsUsage: "EVENT_NAME",
				Action:    clusterWatch,
			},
		},
	}
}

// clusterConfig resolves the effective config.ClusterConfig from
// flags, falling back to the loaded CLI config file.
func clusterConfig(c *cli.Context) (config.ClusterConfig, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.ClusterConfig{}, err
	}
	out := cfg.Cluster
	if members := c.StringSlice("members"); len(members) > 0 {
		out.Members = members
	}
	if c.IsSet("session-timeout") && c.Duration("session-timeout") > 0 {
		out.SessionTimeoutHint = c.Duration("session-timeout")
	}
	if c.Bool("tls") {
		out.TLS = true
	}
	if caFile := c.String("tls-ca-file"); caFile != "" {
		out.TLSCAFile = caFile
	}
	if len(out.Members) == 0 {
		return config.ClusterConfig{}, fmt.Errorf("no cluster members configured: pass --members or set cluster.members in config")
	}
	return out, nil
}

func parseMembers(members []string) ([]raftclient.Address, error) {
	addrs := make([]raftclient.Address, 0, len(members))
	for _, m := range members {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(m))
		if err != nil {
			return nil, fmt.Errorf("invalid member address %q: %w", m, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid member port %q: %w", m, err)
		}
		addrs = append(addrs, raftclient.Address{Host: host, Port: port})
	}
	return addrs, nil
}

// newClusterClient builds and opens a raftclient.Client from the
// command's flags/config. It registers no shutdown hook; the caller is
// responsible for closing the client.
func newClusterClient(c *cli.Context) (*raftclient.Client, error) {
	clusterCfg, err := clusterConfig(c)
	if err != nil {
		return nil, err
	}
	members, err := parseMembers(clusterCfg.Members)
	if err != nil {
		return nil, err
	}

	transport := framed.New()
	if clusterCfg.TLS {
		pool, err := tlsroots.NewPool()
		if err != nil {
			return nil, fmt.Errorf("build tls root pool: %w", err)
		}
		if clusterCfg.TLSCAFile != "" {
			if err := pool.AddCertFile(clusterCfg.TLSCAFile); err != nil {
				return nil, fmt.Errorf("load tls ca file: %w", err)
			}
		}
		transport.TLSConfig = pool.TLSConfig()
	}

	client, err := raftclient.New(members,
		raftclient.WithTransport(transport),
		raftclient.WithSessionTimeoutHint(clusterCfg.SessionTimeoutHint),
	)
	if err != nil {
		return nil, fmt.Errorf("build cluster client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.Open(ctx).Wait(ctx); err != nil {
		return nil, fmt.Errorf("open cluster session: %w", err)
	}
	return client, nil
}

func clusterSubmit(c *cli.Context) error {
	payload := []byte(c.Args().First())
	consistency, ok := consistencyByName[c.String("consistency")]
	if !ok {
		return fmt.Errorf("unknown consistency %q", c.String("consistency"))
	}

	client, err := newClusterClient(c)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := client.Submit(ctx, raftclient.Command(consistency, payload)).Wait(ctx)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	flags := ParseGlobalFlags(c)
	formatter := output.NewFormatter(output.Format(flags.Output), flags.Wide)
	return formatter.Format(os.Stdout, result)
}

func clusterQuery(c *cli.Context) error {
	payload := []byte(c.Args().First())
	consistency, ok := consistencyByName[c.String("consistency")]
	if !ok {
		return fmt.Errorf("unknown consistency %q", c.String("consistency"))
	}

	client, err := newClusterClient(c)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := client.Submit(ctx, raftclient.Query(consistency, c.Uint64("index"), payload)).Wait(ctx)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	flags := ParseGlobalFlags(c)
	formatter := output.NewFormatter(output.Format(flags.Output), flags.Wide)
	return formatter.Format(os.Stdout, result)
}

func clusterWatch(c *cli.Context) error {
	eventName := c.Args().First()
	if eventName == "" {
		return fmt.Errorf("event name required")
	}

	client, err := newClusterClient(c)
	if err != nil {
		return err
	}

	handler := shutdown.NewHandler(5 * time.Second)
	handler.OnShutdown(func(ctx context.Context) error {
		_, err := client.Close(ctx).Wait(ctx)
		return err
	})

	unsubscribe := client.Session().OnEvent(eventName, func(ev raftclient.Event) {
		fmt.Printf("[%d] %s: %s\n", ev.Index, ev.Name, string(ev.Payload))
	})
	defer unsubscribe()

	fmt.Printf("Watching for %q events. Press Ctrl+C to stop.\n", eventName)
	return handler.Wait()
}
