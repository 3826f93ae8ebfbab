// Command jobctl inspects queues and sends admin commands to running workers.
//
// Usage:
//
//	jobctl [-namespace ns] <command> [flags] [args]
//
// Commands:
//
//	enqueue -type T [-queue Q] [-priority] JSON   enqueue a job
//	publish -type T -channel C JSON               publish a job to channel workers
//	list [-queue Q] [-inflight]                   list executions
//	get ID                                        show one execution
//	dequeue -queue Q ID                           remove an execution
//	workers                                       show registered workers and counters
//	pause [-queue Q] | unpause [-queue Q]         pause or resume poll workers
//	stop-job ID                                   cancel a running execution
//	shutdown                                      stop every worker of the namespace
//	cleanup [-queue Q]                            delete undecodable executions
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/dmitrymomot/jobqueue/core/config"
	"github.com/dmitrymomot/jobqueue/core/logger"
	"github.com/dmitrymomot/jobqueue/core/queue"
	"github.com/dmitrymomot/jobqueue/integration/database/redis"
)

var errUsage = errors.New("usage: jobctl [-namespace ns] <enqueue|publish|list|get|dequeue|workers|pause|unpause|stop-job|shutdown|cleanup> ...")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(logger.WithOutput(os.Stderr), logger.WithLevel(slog.LevelWarn))

	var (
		queueCfg queue.Config
		redisCfg redis.Config
	)
	config.MustLoad(&queueCfg)
	config.MustLoad(&redisCfg)

	fs := flag.NewFlagSet("jobctl", flag.ExitOnError)
	namespace := fs.String("namespace", queueCfg.Namespace, "queue namespace")
	_ = fs.Parse(os.Args[1:])

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		log.Error("connecting to redis", logger.Error(err))
		os.Exit(1)
	}
	defer rdb.Close()

	client, err := queue.NewClient(rdb, *namespace,
		queue.WithScanBatchSize(int64(redisCfg.ScanBatchSize)),
		queue.WithStoreLogger(log),
	)
	if err != nil {
		log.Error("creating client", logger.Error(err))
		os.Exit(1)
	}

	if err := run(ctx, client, fs.Args(), os.Stdout); err != nil {
		log.Error("command failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, client *queue.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueName := fs.String("queue", "", "queue name")
	jobType := fs.String("type", "", "job type")
	channel := fs.String("channel", "", "channel name")
	priority := fs.Bool("priority", false, "enqueue at the head of the queue")
	inflight := fs.Bool("inflight", false, "list executions in flight")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	switch cmd {
	case "enqueue":
		payload, err := jsonArg(fs)
		if err != nil {
			return err
		}
		opts := []queue.EnqueueOption{queue.WithJobType(*jobType)}
		if *queueName != "" {
			opts = append(opts, queue.WithQueue(*queueName))
		}
		if *priority {
			opts = append(opts, queue.WithPriority())
		}
		id, err := client.Enqueue(ctx, payload, opts...)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, id)
		return err

	case "publish":
		payload, err := jsonArg(fs)
		if err != nil {
			return err
		}
		n, err := client.Publish(ctx, *channel, payload, queue.WithJobType(*jobType))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "delivered to %d subscribers\n", n)
		return err

	case "list":
		var (
			execs []*queue.Execution
			err   error
		)
		switch {
		case *inflight:
			if *queueName == "" {
				return errors.New("list: -inflight requires -queue")
			}
			execs, err = client.ListInflight(ctx, *queueName)
		case *queueName != "":
			execs, err = client.ListQueued(ctx, *queueName)
		default:
			execs, err = client.ListAll(ctx)
		}
		if err != nil {
			return err
		}
		return printExecutions(out, execs)

	case "get":
		id, err := idArg(fs)
		if err != nil {
			return err
		}
		exec, err := client.Get(ctx, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(exec)

	case "dequeue":
		id, err := idArg(fs)
		if err != nil {
			return err
		}
		removed, err := client.Dequeue(ctx, *queueName, id)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, removed)
		return err

	case "workers":
		return printWorkers(ctx, out, client.Stats())

	case "pause":
		return publishAdmin(ctx, client, out, queue.PauseWorkers{Queue: *queueName})
	case "unpause":
		return publishAdmin(ctx, client, out, queue.UnpauseWorkers{Queue: *queueName})
	case "stop-job":
		id, err := idArg(fs)
		if err != nil {
			return err
		}
		return publishAdmin(ctx, client, out, queue.StopJob{ID: id})
	case "shutdown":
		return publishAdmin(ctx, client, out, queue.ShutdownWorkers{})
	case "cleanup":
		return publishAdmin(ctx, client, out, queue.CleanUpQueues{Queue: *queueName})
	}

	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func jsonArg(fs *flag.FlagSet) (json.RawMessage, error) {
	if fs.Lookup("type").Value.String() == "" {
		return nil, fmt.Errorf("%s: -type is required", fs.Name())
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%s: expected one JSON payload argument", fs.Name())
	}
	raw := json.RawMessage(fs.Arg(0))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: payload is not valid JSON", fs.Name())
	}
	return raw, nil
}

func idArg(fs *flag.FlagSet) (int64, error) {
	if fs.NArg() != 1 {
		return 0, fmt.Errorf("%s: expected one execution id", fs.Name())
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s: invalid execution id %q", fs.Name(), fs.Arg(0))
	}
	return id, nil
}

func publishAdmin(ctx context.Context, client *queue.Client, out io.Writer, cmd any) error {
	n, err := client.Publish(ctx, queue.DefaultAdminChannel, cmd)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = fmt.Fprintln(out, "no channel workers are listening")
		return err
	}
	_, err = fmt.Fprintf(out, "sent to %d channel workers\n", n)
	return err
}

func printExecutions(out io.Writer, execs []*queue.Execution) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPAYLOAD\tRESULT")
	for _, e := range execs {
		result := "-"
		if !e.Result.IsEmpty() {
			result = string(e.Result.Payload)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.ID, e.Job.Type, e.Job.Payload, result)
	}
	return tw.Flush()
}

func printWorkers(ctx context.Context, out io.Writer, stats *queue.StatsStore) error {
	names, err := stats.Workers(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tSTATUS\tQUEUES\tPROCESSED\tFAILED")
	for _, name := range names {
		state, err := stats.State(ctx, name)
		if err != nil {
			return err
		}
		counters, err := stats.Counters(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%d\n", name, state.Status, state.Queues, counters.Processed, counters.Failed)
	}

	total, err := stats.Counters(ctx, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%d\t%d\n", total.Processed, total.Failed)
	return tw.Flush()
}
