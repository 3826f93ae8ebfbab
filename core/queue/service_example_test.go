package queue_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/core/queue"
)

// Example_service demonstrates how to run workers and enqueue jobs with the Service
func Example_service() {
	// An in-process Redis keeps the example self-contained; use a real server in production
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := queue.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond

	service, err := queue.NewServiceFromConfig(cfg, rdb,
		queue.WithServiceLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		log.Fatal(err)
	}

	// Define job payload type
	type EmailJob struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
	}

	done := make(chan struct{})
	emailHandler := queue.NewJobHandler(func(ctx context.Context, job EmailJob) error {
		fmt.Printf("Sending email to %s: %s\n", job.To, job.Subject)
		close(done)
		return nil
	})

	if err := service.RegisterHandlers(emailHandler); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- service.Run(ctx) }()

	if _, err := service.Enqueue(context.Background(), EmailJob{
		To:      "user@example.com",
		Subject: "Welcome!",
	}); err != nil {
		log.Fatal(err)
	}

	<-done
	cancel()
	if err := <-stopped; err != nil {
		log.Fatal(err)
	}

	// Output:
	// Sending email to user@example.com: Welcome!
}

// Example_client demonstrates producing and inspecting jobs without running workers
func Example_client() {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	client, err := queue.NewClient(rdb, "jobs")
	if err != nil {
		log.Fatal(err)
	}

	type Report struct {
		Name string `json:"name"`
	}

	ctx := context.Background()
	first, _ := client.Enqueue(ctx, Report{Name: "daily"}, queue.WithQueue("reports"))
	second, _ := client.Enqueue(ctx, Report{Name: "urgent"}, queue.WithQueue("reports"), queue.WithPriority())

	queued, err := client.ListQueued(ctx, "reports")
	if err != nil {
		log.Fatal(err)
	}
	for _, exec := range queued {
		fmt.Println(exec.ID, exec.Job.Type, string(exec.Job.Payload))
	}

	removed, _ := client.Dequeue(ctx, "reports", first)
	fmt.Println("dequeued:", removed, "remaining head:", second)

	// Output:
	// 2 queue_test.Report {"name":"urgent"}
	// 1 queue_test.Report {"name":"daily"}
	// dequeued: true remaining head: 2
}

// Example_admin demonstrates sending an admin command to every worker of a namespace
func Example_admin() {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	client, err := queue.NewClient(rdb, "jobs")
	if err != nil {
		log.Fatal(err)
	}

	// Channel workers of the "jobs" namespace pause their poll workers
	if _, err := client.Publish(context.Background(), queue.DefaultAdminChannel, queue.PauseWorkers{Queue: "reports"}); err != nil {
		log.Fatal(err)
	}
	fmt.Println("pause requested")

	// Output:
	// pause requested
}
