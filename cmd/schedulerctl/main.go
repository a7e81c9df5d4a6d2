// Command schedulerctl is the operator CLI for the predictive task
// scheduler: it talks to etcd directly, the same external boundary the
// scheduler process itself consumes, to submit tasks, announce worker
// registrations, inject heartbeat/completion telemetry for testing, and
// inspect the persisted prediction snapshot.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"

	"titansched/internal/persistence"
	"titansched/internal/streaming"
)

var etcdEndpoints string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "schedulerctl",
	Short: "Operate a predictive task scheduler deployment",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&etcdEndpoints, "etcd-endpoints", "localhost:2379", "comma-separated etcd endpoints")
	rootCmd.AddCommand(submitCmd, registerCmd, heartbeatCmd, completeCmd, predictionsCmd)
}

func dialEtcd() (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(etcdEndpoints, ","),
		DialTimeout: 5 * time.Second,
	})
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task onto the ingress stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetInt("priority")
		payload, _ := cmd.Flags().GetString("payload")
		if taskType == "" {
			return fmt.Errorf("--type is required")
		}

		client, err := dialEtcd()
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer client.Close()

		id := uuid.NewString()
		body := map[string]any{
			"id":        id,
			"type":      taskType,
			"priority":  strconv.Itoa(priority),
			"createdAt": time.Now().UTC().Format(time.RFC3339),
			"payload":   json.RawMessage(payload),
		}
		blob, err := json.Marshal(body)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		key := streaming.TaskPrefix + id
		if _, err := client.Put(ctx, key, string(blob)); err != nil {
			return fmt.Errorf("put task: %w", err)
		}

		fmt.Printf("submitted task %s (type=%s, priority=%d)\n", id, taskType, priority)
		return nil
	},
}

func init() {
	submitCmd.Flags().String("type", "", "task type (required)")
	submitCmd.Flags().Int("priority", 0, "task priority")
	submitCmd.Flags().String("payload", "null", "raw JSON payload")
}

var registerCmd = &cobra.Command{
	Use:   "register WORKER_ID",
	Short: "Announce a worker's registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workerID := args[0]
		maxConcurrency, _ := cmd.Flags().GetInt("max-concurrency")
		caps, _ := cmd.Flags().GetStringSlice("capability")

		client, err := dialEtcd()
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer client.Close()

		blob, err := json.Marshal(map[string]any{
			"WorkerID":       workerID,
			"MaxConcurrency": maxConcurrency,
			"Capabilities":   caps,
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		key := streaming.RegistrationPrefix + workerID
		if _, err := client.Put(ctx, key, string(blob)); err != nil {
			return fmt.Errorf("put registration: %w", err)
		}

		fmt.Printf("registered worker %s (maxConcurrency=%d, capabilities=%v)\n", workerID, maxConcurrency, caps)
		return nil
	},
}

func init() {
	registerCmd.Flags().Int("max-concurrency", 1, "maximum concurrent tasks this worker accepts")
	registerCmd.Flags().StringSlice("capability", nil, "capability this worker declares (repeatable)")
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat WORKER_ID",
	Short: "Inject one telemetry heartbeat for a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workerID := args[0]
		cpu, _ := cmd.Flags().GetFloat64("cpu")
		mem, _ := cmd.Flags().GetFloat64("memory")
		queueDepth, _ := cmd.Flags().GetInt("queue-depth")

		client, err := dialEtcd()
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer client.Close()

		blob, err := json.Marshal(map[string]any{
			"WorkerID":    workerID,
			"CPUUsage":    cpu,
			"MemoryUsage": mem,
			"QueueDepth":  queueDepth,
			"TimestampMs": time.Now().UnixMilli(),
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		key := streaming.HeartbeatPrefix + workerID + "/" + strconv.FormatInt(time.Now().UnixNano(), 36)
		if _, err := client.Put(ctx, key, string(blob)); err != nil {
			return fmt.Errorf("put heartbeat: %w", err)
		}

		fmt.Printf("heartbeat sent for %s\n", workerID)
		return nil
	},
}

func init() {
	heartbeatCmd.Flags().Float64("cpu", 0.1, "CPU usage fraction [0,1]")
	heartbeatCmd.Flags().Float64("memory", 0.1, "memory usage fraction [0,1]")
	heartbeatCmd.Flags().Int("queue-depth", 0, "worker-local queue depth")
}

var completeCmd = &cobra.Command{
	Use:   "complete TASK_ID TASK_TYPE WORKER_ID DURATION_MS",
	Short: "Inject a completion event for accuracy/drift testing",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		durationMs, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("parse duration: %w", err)
		}

		client, err := dialEtcd()
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer client.Close()

		blob, err := json.Marshal(map[string]any{
			"taskId":      args[0],
			"taskType":    args[1],
			"workerId":    args[2],
			"durationMs":  durationMs,
			"success":     true,
			"completedAt": time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		key := streaming.CompletionPrefix + args[0]
		if _, err := client.Put(ctx, key, string(blob)); err != nil {
			return fmt.Errorf("put completion: %w", err)
		}

		fmt.Printf("completion recorded for task %s (%gms)\n", args[0], durationMs)
		return nil
	},
}

var predictionsCmd = &cobra.Command{
	Use:   "predictions",
	Short: "Print the persisted prediction snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := persistence.NewEtcdStore(strings.Split(etcdEndpoints, ","), 5*time.Second)
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		blob, ok, err := store.Get(ctx, persistence.DefaultKey)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if !ok {
			fmt.Println("no prediction snapshot persisted yet")
			return nil
		}

		var snap persistence.Snapshot
		if err := json.Unmarshal(blob, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}

		fmt.Printf("snapshot version %d, saved at %s\n", snap.Version, snap.SavedAt.Format(time.RFC3339))
		for taskType, entry := range snap.Predictions {
			fmt.Printf("  %-20s ema=%.1fms samples=%d updated=%s\n", taskType, entry.EMA, entry.SampleCount, entry.LastUpdated.Format(time.RFC3339))
		}
		return nil
	},
}
