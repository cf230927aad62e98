package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"keeper/rpc"
)

var (
	addr    string
	secret  string
	timeout time.Duration

	client *rpc.Client
	conn   *grpc.ClientConn

	rootCmd = &cobra.Command{
		Use:               "keeperctl",
		Short:             "Inspect and drive a running keeper over gRPC",
		SilenceUsage:      true,
		PersistentPreRunE: connect,
		PersistentPostRun: func(*cobra.Command, []string) {
			if conn != nil {
				_ = conn.Close()
			}
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show write queue depth and token bucket state",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	loadCmd = &cobra.Command{
		Use:   "load [entity] [owner]",
		Short: "Load an entity from the store, as a session start would",
		Args:  cobra.ExactArgs(2),
		RunE:  runLoad,
	}

	flushCmd = &cobra.Command{
		Use:   "flush [owner]",
		Short: "Write every queued change for an owner immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runFlush,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "localhost:9002", "keeper gRPC address")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("KEEPER_API_SECRET"), "api secret sent as authorization metadata")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(statsCmd, loadCmd, flushCmd)
}

func connect(*cobra.Command, []string) error {
	var err error
	conn, err = grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	client = rpc.NewClient(conn)
	return nil
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	if secret != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", secret)
	}
	return ctx, cancel
}

func printReply(cmd *cobra.Command, reply proto.Message) error {
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(reply)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	reply, err := client.Stats(ctx)
	if err != nil {
		return err
	}
	return printReply(cmd, reply)
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	reply, err := client.Load(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if err := printReply(cmd, reply); err != nil {
		return err
	}
	if reply.GetFields()["outcome"].GetStringValue() == "failed" {
		return fmt.Errorf("load of %s_%s failed", args[0], args[1])
	}
	return nil
}

func runFlush(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	reply, err := client.FlushOwner(ctx, args[0])
	if err != nil {
		return err
	}
	return printReply(cmd, reply)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
